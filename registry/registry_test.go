package registry

import (
	"regexp"
	"testing"

	"github.com/jifbench/jifbench/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplate(t *testing.T) {
	tests := Template("rust", "resizer", "/bin/resize-rs",
		map[string]string{"tiny": "/img/t.jpg", "large": "/img/l.jpg", "medium": "/img/m.jpg"},
		AppendFlag("--new-version"))

	require.Len(t, tests, 3)
	assert.Equal(t, []string{"large", "medium", "tiny"},
		[]string{tests[0].ArgName, tests[1].ArgName, tests[2].ArgName})

	for _, tc := range tests {
		assert.Equal(t, "rust", tc.Lang)
		assert.Equal(t, "resizer", tc.Name)
		assert.Equal(t, "/bin/resize-rs", tc.RawCommand)
		assert.Equal(t, "/bin/resize-rs --new-version", tc.Command)
		assert.Equal(t, 1, tc.StopCount)
	}
	assert.Equal(t, "/img/l.jpg", tests[0].Args)
	assert.Equal(t, "rust_resizer_large", tests[0].ID())
}

func TestTemplateIdentity(t *testing.T) {
	tests := Template("java", "resizer", "/usr/bin/java Resizer.java", map[string]string{"a": "x"}, nil)
	require.Len(t, tests, 1)
	assert.Equal(t, tests[0].RawCommand, tests[0].Command)
	assert.Equal(t, 2, tests[0].StopCount)
}

func TestTransforms(t *testing.T) {
	assert.Equal(t, "python3 new_runner.py matmul", ReplaceRunner("run.py", "new_runner.py")("python3 run.py matmul"))
	assert.Equal(t, "java X.java --new_version", AppendFlag("--new_version")("java X.java"))
	assert.Equal(t, "unchanged", Identity("unchanged"))
}

func TestNewRejectsDuplicates(t *testing.T) {
	a := NewTest("python", "matmul", "cmd", "{}", "", nil)
	b := NewTest("java", "matmul", "cmd", "{}", "", nil)

	_, err := New(a, b)
	require.NoError(t, err)

	_, err = New(a, b, a)
	require.ErrorIs(t, err, ErrDuplicateTest)
}

func TestCatalogUniqueKeys(t *testing.T) {
	reg, err := Catalog("/opt/junction")
	require.NoError(t, err)

	tests := reg.Tests()
	require.Len(t, tests, 17)

	seen := map[model.Key]bool{}
	ids := map[string]bool{}
	for _, tc := range tests {
		assert.False(t, seen[tc.Key()], "duplicate key %v", tc.Key())
		assert.False(t, ids[tc.ID()], "duplicate id %s", tc.ID())
		seen[tc.Key()] = true
		ids[tc.ID()] = true
	}

	assert.Equal(t, "node_hello", tests[0].ID())
	assert.Contains(t, tests[1].Command, "new_runner.py chameleon")
	assert.Contains(t, tests[1].RawCommand, "run.py chameleon")
}

func TestFilter(t *testing.T) {
	reg, err := Catalog("/opt/junction")
	require.NoError(t, err)

	t.Run("empty_filter_selects_all", func(t *testing.T) {
		assert.Len(t, reg.Select(Filter{}), len(reg.Tests()))
	})

	t.Run("language", func(t *testing.T) {
		got := reg.Select(Filter{Lang: regexp.MustCompile("^java$")})
		require.Len(t, got, 3)
		for _, tc := range got {
			assert.Equal(t, "java", tc.Lang)
		}
	})

	t.Run("name_and_arg", func(t *testing.T) {
		got := reg.Select(Filter{
			Name:    regexp.MustCompile("resizer"),
			ArgName: regexp.MustCompile("tiny"),
		})
		require.Len(t, got, 3)
		for _, tc := range got {
			assert.Equal(t, "tiny", tc.ArgName)
		}
	})

	t.Run("arg_filter_passes_tests_without_variant", func(t *testing.T) {
		got := reg.Select(Filter{
			Lang:    regexp.MustCompile("java"),
			ArgName: regexp.MustCompile("large"),
		})
		var ids []string
		for _, tc := range got {
			ids = append(ids, tc.ID())
		}
		assert.Equal(t, []string{"java_matmul", "java_resizer_large"}, ids)
	})
}

func TestCoRunners(t *testing.T) {
	reg, err := Catalog("/opt/junction")
	require.NoError(t, err)
	all := reg.Tests()

	for _, tc := range all {
		for _, co := range CoRunners(tc, all) {
			assert.NotEqual(t, tc.Key(), co.Key(), "%s must not contend with itself", tc.ID())
			assert.Equal(t, tc.Lang, co.Lang)
			assert.NotEqual(t, tc.Name, co.Name)
			if tc.ArgName != "" && co.ArgName != "" {
				assert.NotEqual(t, tc.ArgName, co.ArgName)
			}
		}
	}

	find := func(id string) model.TestCase {
		for _, tc := range all {
			if tc.ID() == id {
				return tc
			}
		}
		t.Fatalf("test %s not found", id)
		return model.TestCase{}
	}

	var ids []string
	for _, co := range CoRunners(find("java_resizer_large"), all) {
		ids = append(ids, co.ID())
	}
	assert.Equal(t, []string{"java_matmul"}, ids)

	assert.Empty(t, CoRunners(find("node_hello"), all))
	assert.Len(t, CoRunners(find("python_matmul"), all), 8)
}
