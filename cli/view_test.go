package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoveFirstDashDash(t *testing.T) {
	for name, tc := range map[string]struct {
		in   []string
		want []string
	}{
		"nothing":           {in: []string{}, want: []string{}},
		"leading separator": {in: []string{"--", "-top", "-cum"}, want: []string{"-top", "-cum"}},
		"no separator":      {in: []string{"-tags"}, want: []string{"-tags"}},
		"separator only":    {in: []string{"--"}, want: []string{}},
		"inner separator":   {in: []string{"-top", "--", "-cum"}, want: []string{"-top", "--", "-cum"}},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, removeFirstDashDash(tc.in))
		})
	}
}

func TestParseViewArgs(t *testing.T) {
	for _, tc := range []struct {
		name      string
		in        []string
		wantID    string
		wantPprof []string
	}{
		{name: "latest sweep by default", in: nil, wantID: "0"},
		{name: "latest sweep", in: []string{"0"}, wantID: "0", wantPprof: []string{}},
		{name: "previous sweep", in: []string{"-1"}, wantID: "-1", wantPprof: []string{}},
		{name: "id prefix", in: []string{"3f9a"}, wantID: "3f9a", wantPprof: []string{}},
		{name: "pprof flag selects latest", in: []string{"-top"}, wantID: "0", wantPprof: []string{"-top"}},
		{name: "pprof flag with value", in: []string{"-http=:8080"}, wantID: "0", wantPprof: []string{"-http=:8080"}},
		{name: "separator selects latest", in: []string{"--", "-tags"}, wantID: "0", wantPprof: []string{"-tags"}},
		{name: "index then separator", in: []string{"-2", "--", "-list=metadata"}, wantID: "-2", wantPprof: []string{"-list=metadata"}},
		{name: "index then flags", in: []string{"-1", "-top", "-cum"}, wantID: "-1", wantPprof: []string{"-top", "-cum"}},
		{name: "prefix then flags", in: []string{"3f9a", "-focus=itrees_jif_k"}, wantID: "3f9a", wantPprof: []string{"-focus=itrees_jif_k"}},
		{name: "prefix then separator", in: []string{"3f9a", "--", "-tagfocus=phase=data"}, wantID: "3f9a", wantPprof: []string{"-tagfocus=phase=data"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			id, pprofArgs := parseViewArgs(tc.in)
			assert.Equal(t, tc.wantID, id)
			assert.Equal(t, tc.wantPprof, pprofArgs)
		})
	}
}
