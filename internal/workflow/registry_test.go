package workflow_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/kiln/internal/workflow"
)

const registrySubtestNameTemplate = "%d_%s"

func TestRegistryExpandIgnoresLeafRegistrationOrder(testInstance *testing.T) {
	recorder := &executionRecorder{}
	registry := workflow.NewRegistry()
	require.NoError(testInstance, registry.Register(composite("build", "clean", "copy", "compile-styles")))
	require.NoError(testInstance, registry.Register(leaf("compile-styles", recorder.succeed())))
	require.NoError(testInstance, registry.Register(leaf("copy", recorder.succeed())))
	require.NoError(testInstance, registry.Register(leaf("clean", recorder.succeed())))

	expanded, expandError := registry.Expand([]string{"build"})
	require.NoError(testInstance, expandError)
	require.Equal(testInstance, []string{"clean", "copy", "compile-styles"}, expanded)
}

func TestRegistryExpandIsDepthFirst(testInstance *testing.T) {
	recorder := &executionRecorder{}
	registry := workflow.NewRegistry()
	for _, name := range []string{"clean", "copy", "sass", "postcss", "htmlmin", "cssmin"} {
		require.NoError(testInstance, registry.Register(leaf(name, recorder.succeed())))
	}
	require.NoError(testInstance, registry.Register(composite("styles", "sass", "postcss")))
	require.NoError(testInstance, registry.Register(composite("build", "clean", "copy", "styles")))
	require.NoError(testInstance, registry.Register(composite("build-min", "build", "htmlmin", "cssmin")))

	expanded, expandError := registry.Expand([]string{"build-min", "clean"})
	require.NoError(testInstance, expandError)
	require.Equal(testInstance, []string{"clean", "copy", "sass", "postcss", "htmlmin", "cssmin", "clean"}, expanded)
}

func TestRegistryRegisterFailures(testInstance *testing.T) {
	recorder := &executionRecorder{}
	testCases := []struct {
		name       string
		definition workflow.TaskDefinition
		assert     func(testInstance *testing.T, registerError error)
	}{
		{
			name:       "duplicate",
			definition: leaf("clean", recorder.succeed()),
			assert: func(testInstance *testing.T, registerError error) {
				require.ErrorAs(testInstance, registerError, &workflow.DuplicateTaskError{})
			},
		},
		{
			name:       "empty_name",
			definition: leaf("  ", recorder.succeed()),
			assert: func(testInstance *testing.T, registerError error) {
				require.ErrorAs(testInstance, registerError, &workflow.InvalidTaskDefinitionError{})
			},
		},
		{
			name:       "leaf_without_executor",
			definition: workflow.TaskDefinition{Name: "copy"},
			assert: func(testInstance *testing.T, registerError error) {
				require.ErrorAs(testInstance, registerError, &workflow.InvalidTaskDefinitionError{})
			},
		},
		{
			name:       "composite_with_executor",
			definition: workflow.TaskDefinition{Name: "build", Subtasks: []string{"clean"}, Executor: recorder.succeed()},
			assert: func(testInstance *testing.T, registerError error) {
				require.ErrorAs(testInstance, registerError, &workflow.InvalidTaskDefinitionError{})
			},
		},
		{
			name:       "empty_target",
			definition: leaf("sass:", recorder.succeed()),
			assert: func(testInstance *testing.T, registerError error) {
				require.ErrorAs(testInstance, registerError, &workflow.InvalidTaskDefinitionError{})
			},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(registrySubtestNameTemplate, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			registry := workflow.NewRegistry()
			require.NoError(testInstance, registry.Register(leaf("clean", recorder.succeed())))

			registerError := registry.Register(testCase.definition)
			require.Error(testInstance, registerError)
			testCase.assert(testInstance, registerError)
		})
	}
}

func TestRegistryUnknownTasks(testInstance *testing.T) {
	recorder := &executionRecorder{}
	registry := workflow.NewRegistry()
	require.NoError(testInstance, registry.Register(leaf("clean", recorder.succeed())))
	require.NoError(testInstance, registry.Register(composite("build", "clean", "missing")))

	_, getError := registry.Get("nope")
	var unknownError workflow.UnknownTaskError
	require.ErrorAs(testInstance, getError, &unknownError)
	require.Equal(testInstance, "nope", unknownError.Name)

	_, expandError := registry.Expand([]string{"build"})
	require.ErrorAs(testInstance, expandError, &unknownError)
	require.Equal(testInstance, "missing", unknownError.Name)
	require.Equal(testInstance, "build", unknownError.ReferencedBy)

	validationError := registry.Validate()
	require.Error(testInstance, validationError)
	require.ErrorAs(testInstance, validationError, &unknownError)
}

func TestRegistryDetectsCompositeCycles(testInstance *testing.T) {
	registry := workflow.NewRegistry()
	require.NoError(testInstance, registry.Register(composite("a", "b")))
	require.NoError(testInstance, registry.Register(composite("b", "a")))

	_, expandError := registry.Expand([]string{"a"})
	var cycleError workflow.CompositeCycleError
	require.ErrorAs(testInstance, expandError, &cycleError)
	require.Equal(testInstance, []string{"a", "b", "a"}, cycleError.Chain)
}

func TestRegistryTargetGroups(testInstance *testing.T) {
	recorder := &executionRecorder{}
	registry := workflow.NewRegistry()
	require.NoError(testInstance, registry.Register(leaf("assemble:dev", recorder.succeed())))
	require.NoError(testInstance, registry.Register(leaf("clean", recorder.succeed())))
	require.NoError(testInstance, registry.Register(leaf("assemble:prod", recorder.succeed())))

	expanded, expandError := registry.Expand([]string{"assemble"})
	require.NoError(testInstance, expandError)
	require.Equal(testInstance, []string{"assemble:dev", "assemble:prod"}, expanded)

	group, getError := registry.Get("assemble")
	require.NoError(testInstance, getError)
	require.True(testInstance, group.IsComposite())
	require.True(testInstance, registry.Has("assemble"))
	require.False(testInstance, registry.Has("assemble:stage"))

	require.NoError(testInstance, registry.Register(leaf("assemble", recorder.succeed())))
	explicit, explicitError := registry.Expand([]string{"assemble"})
	require.NoError(testInstance, explicitError)
	require.Equal(testInstance, []string{"assemble"}, explicit)
}

func TestRegistryPlanInheritsBestEffort(testInstance *testing.T) {
	recorder := &executionRecorder{}
	registry := workflow.NewRegistry()
	require.NoError(testInstance, registry.Register(leaf("imagemin", recorder.succeed())))
	require.NoError(testInstance, registry.Register(leaf("cssmin", recorder.succeed())))
	optional := composite("optimize", "imagemin")
	optional.BestEffort = true
	require.NoError(testInstance, registry.Register(optional))

	planned, planError := registry.Plan([]string{"optimize", "cssmin"})
	require.NoError(testInstance, planError)
	require.Len(testInstance, planned, 2)
	require.True(testInstance, planned[0].BestEffort)
	require.False(testInstance, planned[1].BestEffort)
}

func TestRegistryFreezeAndListing(testInstance *testing.T) {
	recorder := &executionRecorder{}
	registry := workflow.NewRegistry()
	require.NoError(testInstance, registry.Register(leaf("clean", recorder.succeed())))
	pipeline := composite("build", "clean")
	pipeline.Pipeline = true
	require.NoError(testInstance, registry.Register(pipeline))
	registry.Freeze()

	require.ErrorIs(testInstance, registry.Register(leaf("copy", recorder.succeed())), workflow.ErrRegistryFrozen)
	require.Equal(testInstance, []string{"clean", "build"}, registry.Names())
	require.Equal(testInstance, []string{"build"}, registry.Pipelines())
	require.Len(testInstance, registry.Definitions(), 2)
	require.NoError(testInstance, registry.Validate())
}

func TestRegistryStoresCopies(testInstance *testing.T) {
	registry := workflow.NewRegistry()
	subtasks := []string{"clean"}
	require.NoError(testInstance, registry.Register(workflow.TaskDefinition{Name: "build", Subtasks: subtasks}))
	subtasks[0] = "mutated"

	definition, getError := registry.Get("build")
	require.NoError(testInstance, getError)
	require.Equal(testInstance, []string{"clean"}, definition.Subtasks)
}
