// SPDX-License-Identifier: MPL-2.0

package container

import (
	"slices"
	"testing"
)

func TestMakeUsernsKeepIDAdder(t *testing.T) {
	t.Parallel()

	transformer := makeUsernsKeepIDAdder()

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "simple run command",
			args: []string{"run", "docker.io/library/python:3"},
			want: []string{"run", "--userns=keep-id", "docker.io/library/python:3"},
		},
		{
			name: "run with boolean flag",
			args: []string{"run", "--rm", "docker.io/library/python:3"},
			want: []string{"run", "--rm", "--userns=keep-id", "docker.io/library/python:3"},
		},
		{
			name: "run with value flags",
			args: []string{"run", "-w", "/work", "--user", "65534:65534", "docker.io/library/python:3"},
			want: []string{"run", "-w", "/work", "--user", "65534:65534", "--userns=keep-id", "docker.io/library/python:3"},
		},
		{
			name: "command after image untouched",
			args: []string{"run", "--rm", "-v", "/a:/b:Z", "docker.io/library/python:3", "python3", "setup.py"},
			want: []string{"run", "--rm", "-v", "/a:/b:Z", "--userns=keep-id", "docker.io/library/python:3", "python3", "setup.py"},
		},
		{
			name: "non-run command untouched",
			args: []string{"pull", "docker.io/library/python:3"},
			want: []string{"pull", "docker.io/library/python:3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := transformer(slices.Clone(tt.args))
			if !slices.Equal(got, tt.want) {
				t.Errorf("transformer(%v) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}
