package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUNCPath(t *testing.T) {
	assert.True(t, IsUNCPath(`\\cm01\Sources\Updates`))
	assert.False(t, IsUNCPath(`D:\Sources\Updates`))
	assert.False(t, IsUNCPath(`Sources\Updates`))
}

func TestAdminSharePath(t *testing.T) {
	tests := []struct {
		name   string
		server string
		path   string
		want   string
	}{
		{"drive rooted", "cm01", `D:\Sources\Updates`, `\\cm01\d$\Sources\Updates`},
		{"drive root only", "cm01", `E:\`, `\\cm01\e$`},
		{"unc passes through", "cm01", `\\cm01\Sources`, `\\cm01\Sources`},
		{"no server", "", `D:\Sources`, `D:\Sources`},
		{"relative passes through", "cm01", `Sources\Updates`, `Sources\Updates`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AdminSharePath(tt.server, tt.path))
		})
	}
}

func TestJoinPackagePath(t *testing.T) {
	assert.Equal(t, `\\cm01\Sources\Updates\Pkg`, JoinPackagePath(`\\cm01\Sources\Updates`, "Pkg"))
	assert.Equal(t, `\\cm01\Sources\Updates\Pkg`, JoinPackagePath(`\\cm01\Sources\Updates\`, "Pkg"))
	assert.Equal(t, `D:\Sources\Pkg (2)`, JoinPackagePath(`D:\Sources`, "Pkg (2)"))
}
