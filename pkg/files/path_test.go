package files

import "testing"

func TestResolve(t *testing.T) {
	cases := []struct {
		name       string
		input      string
		wantAbs    string
		wantRel    string
		wantErr    bool
	}{
		{name: "empty", input: "", wantAbs: SandboxPath, wantRel: ""},
		{name: "dot", input: ".", wantAbs: SandboxPath, wantRel: ""},
		{name: "relative file", input: "ok.txt", wantAbs: SandboxPath + "/ok.txt", wantRel: "ok.txt"},
		{name: "relative nested", input: "sub/dir/ok.txt", wantAbs: SandboxPath + "/sub/dir/ok.txt", wantRel: "sub/dir/ok.txt"},
		{name: "absolute inside sandbox", input: SandboxPath + "/ok.txt", wantAbs: SandboxPath + "/ok.txt", wantRel: "ok.txt"},
		{name: "absolute is sandbox root", input: SandboxPath, wantAbs: SandboxPath, wantRel: ""},
		{name: "bare dotdot", input: "..", wantErr: true},
		{name: "leading dotdot", input: "../x", wantErr: true},
		{name: "absolute outside sandbox", input: "/etc/passwd", wantErr: true},
		{name: "absolute escapes via dotdot", input: SandboxPath + "/../x", wantErr: true},
		{name: "nested dotdot escape", input: "sub/../../x", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			abs, rel, cerr := resolve(tc.input)
			if tc.wantErr {
				if cerr == nil {
					t.Fatalf("resolve(%q): expected error, got abs=%q rel=%q", tc.input, abs, rel)
				}
				return
			}
			if cerr != nil {
				t.Fatalf("resolve(%q): unexpected error %v", tc.input, cerr)
			}
			if abs != tc.wantAbs {
				t.Errorf("resolve(%q): abs = %q, want %q", tc.input, abs, tc.wantAbs)
			}
			if rel != tc.wantRel {
				t.Errorf("resolve(%q): rel = %q, want %q", tc.input, rel, tc.wantRel)
			}
		})
	}
}
