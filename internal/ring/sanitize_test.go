// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ring

import "testing"

func TestValidateFileName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"a.txt", false},
		{"report-2026.csv", false},
		{"", true},
		{"..", true},
		{"../etc/passwd", true},
		{"sub/dir", true},
		{"back\\slash", true},
	}
	for _, tt := range tests {
		err := validateFileName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateFileName(%q) err=%v, wantErr=%v", tt.name, err, tt.wantErr)
		}
	}
}

func TestValidatePathInBaseDir(t *testing.T) {
	if err := validatePathInBaseDir("/data/content", "/data/content/a.part-001-of-003"); err != nil {
		t.Errorf("expected path within base dir to pass, got %v", err)
	}
	if err := validatePathInBaseDir("/data/content", "/data/backup/a.part-001-of-003"); err == nil {
		t.Error("expected path outside base dir to fail")
	}
}
