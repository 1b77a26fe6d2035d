package configtree_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tyemirov/kiln/internal/configtree"
)

func TestParseYAMLPreservesKeyOrderAndScalarTypes(testInstance *testing.T) {
	root := parseYAMLDocument(testInstance, `
zeta: 1
alpha: 2.5
mid: true
none: ~
text: "007"
`)

	require.Equal(testInstance, []string{"zeta", "alpha", "mid", "none", "text"}, root.Keys())

	zeta, _ := root.Field("zeta")
	require.Equal(testInstance, int64(1), zeta.Value())
	alpha, _ := root.Field("alpha")
	require.Equal(testInstance, 2.5, alpha.Value())
	mid, _ := root.Field("mid")
	require.Equal(testInstance, true, mid.Value())
	none, _ := root.Field("none")
	require.Nil(testInstance, none.Value())
	require.Equal(testInstance, "", none.Text())
	text, _ := root.Field("text")
	require.Equal(testInstance, "007", text.Text())
}

func TestParseYAMLRejectsDuplicateKeys(testInstance *testing.T) {
	_, parseError := configtree.Parse([]byte("a: 1\na: 2\n"), configtree.FormatYAML, "dup.yaml")
	require.Error(testInstance, parseError)
	require.ErrorAs(testInstance, parseError, &configtree.ParseError{})
}

func TestParseYAMLFollowsAliases(testInstance *testing.T) {
	root := parseYAMLDocument(testInstance, "shared: &files [a.js, b.js]\nbundle: *files\n")

	bundle, found := root.Lookup("bundle")
	require.True(testInstance, found)
	require.Equal(testInstance, []string{"a.js", "b.js"}, bundle.Strings())
}

func TestParseFormats(testInstance *testing.T) {
	testCases := []struct {
		name     string
		format   configtree.Format
		document string
	}{
		{
			name:     "json",
			format:   configtree.FormatJSON,
			document: `{"paths": {"src": "src", "scss": "<%= paths.src %>/scss"}, "port": 3000, "tasks": ["a", "b"]}`,
		},
		{
			name:     "toml",
			format:   configtree.FormatTOML,
			document: "port = 3000\ntasks = [\"a\", \"b\"]\n\n[paths]\nsrc = \"src\"\nscss = \"<%= paths.src %>/scss\"\n",
		},
		{
			name:   "hcl",
			format: configtree.FormatHCL,
			document: `port = 3000
tasks = ["a", "b"]
paths {
  src  = "src"
  scss = "<%= paths.src %>/scss"
}
`,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(resolverSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			root, parseError := configtree.Parse([]byte(testCase.document), testCase.format, testCase.name)
			require.NoError(testInstance, parseError)

			resolved, resolveError := configtree.Resolve(root)
			require.NoError(testInstance, resolveError)

			scss, found := resolved.Lookup("paths.scss")
			require.True(testInstance, found)
			require.Equal(testInstance, "src/scss", scss.Text())

			port, _ := resolved.Lookup("port")
			require.Equal(testInstance, int64(3000), port.Value())

			tasks, _ := resolved.Lookup("tasks")
			require.Equal(testInstance, []string{"a", "b"}, tasks.Strings())
		})
	}
}

func TestParseHCLLabeledBlocksKeepSourceOrder(testInstance *testing.T) {
	document := `
task "sass:dist" {
  kind   = "exec"
  inputs = ["src/**/*.scss"]
}
task "clean" {
  kind = "clean"
}
watch {
  debounce = "250ms"
}
`
	root, parseError := configtree.Parse([]byte(document), configtree.FormatHCL, "kiln.hcl")
	require.NoError(testInstance, parseError)

	require.Equal(testInstance, []string{"task", "watch"}, root.Keys())
	tasks, _ := root.Field("task")
	require.Equal(testInstance, []string{"sass:dist", "clean"}, tasks.Keys())

	kind, found := root.Lookup("task.sass:dist.kind")
	require.True(testInstance, found)
	require.Equal(testInstance, "exec", kind.Text())
}

func TestParseHCLRejectsDuplicateAttributes(testInstance *testing.T) {
	_, parseError := configtree.Parse([]byte("paths {\n  a = 1\n}\npaths {\n  a = 2\n}\n"), configtree.FormatHCL, "dup.hcl")
	require.Error(testInstance, parseError)
}

func TestLoadFileDetectsFormat(testInstance *testing.T) {
	fileSystem := afero.NewMemMapFs()
	require.NoError(testInstance, afero.WriteFile(fileSystem, "/site/kiln.yml", []byte("a: 1\n"), 0o644))
	require.NoError(testInstance, afero.WriteFile(fileSystem, "/site/kiln.ini", []byte("a=1\n"), 0o644))

	root, loadError := configtree.LoadFile(fileSystem, "/site/kiln.yml")
	require.NoError(testInstance, loadError)
	require.Equal(testInstance, []string{"a"}, root.Keys())

	_, unsupportedError := configtree.LoadFile(fileSystem, "/site/kiln.ini")
	require.Error(testInstance, unsupportedError)

	_, missingError := configtree.LoadFile(fileSystem, "/site/missing.yaml")
	require.Error(testInstance, missingError)
}

type decodeFixture struct {
	Paths    []string      `mapstructure:"paths"`
	Port     int           `mapstructure:"port"`
	Debounce time.Duration `mapstructure:"debounce"`
	Verbose  bool          `mapstructure:"verbose"`
}

func TestDecode(testInstance *testing.T) {
	root := parseYAMLDocument(testInstance, "paths: build\nport: \"8080\"\ndebounce: 300ms\nverbose: true\n")

	var decoded decodeFixture
	require.NoError(testInstance, configtree.Decode(root, &decoded))
	require.Equal(testInstance, decodeFixture{Paths: []string{"build"}, Port: 8080, Debounce: 300 * time.Millisecond, Verbose: true}, decoded)

	unknown := parseYAMLDocument(testInstance, "paths: [a]\ntypo: 1\n")
	require.Error(testInstance, configtree.Decode(unknown, &decodeFixture{}))

	var untouched decodeFixture
	require.NoError(testInstance, configtree.Decode(nil, &untouched))
	require.Zero(testInstance, untouched)
}
