package git

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// SanitizeName keeps alphanumerics, '.', '_', and '-'; every other rune
// becomes '-'.
func SanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-' {
			out = append(out, r)
		} else {
			out = append(out, '-')
		}
	}
	return string(out)
}

// DeriveWorktreeName turns a branch name into a directory name under
// worktreesDir: the last '/'-segment, sanitized, with -2, -3, … appended on
// collision with an existing directory.
func DeriveWorktreeName(branchName, worktreesDir string) string {
	base := branchName
	if idx := strings.LastIndexByte(branchName, '/'); idx >= 0 {
		base = branchName[idx+1:]
	}
	base = SanitizeName(base)

	if _, err := os.Stat(filepath.Join(worktreesDir, base)); err != nil {
		return base
	}

	for i := 2; ; i++ {
		suffixed := fmt.Sprintf("%s-%d", base, i)
		if _, err := os.Stat(filepath.Join(worktreesDir, suffixed)); err != nil {
			return suffixed
		}
	}
}
