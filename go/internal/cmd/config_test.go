package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "host", args: []string{"-host", "Hosty"}},
		{name: "join", args: []string{"-join", "MUSIC7", "-name", "Ada"}},
		{name: "neither", args: nil, wantErr: true},
		{name: "both", args: []string{"-host", "H", "-join", "MUSIC7", "-name", "Ada"}, wantErr: true},
		{name: "join without name", args: []string{"-join", "MUSIC7"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
