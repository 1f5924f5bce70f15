package seccomp

import (
	"testing"
)

// TestBuildFilter 测试过滤器构建
func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name    string
		builder Builder
		wantErr bool
	}{
		{
			name: "basic",
			builder: Builder{
				Allow:   []string{"read", "write", "exit", "exit_group"},
				Default: ActionKill,
			},
			wantErr: false,
		},
		{
			name: "empty allow list",
			builder: Builder{
				Default: ActionAllow,
			},
			wantErr: false,
		},
		{
			name: "errno default",
			builder: Builder{
				Allow:   []string{"read"},
				Default: ActionErrno.WithReturnCode(1),
			},
			wantErr: false,
		},
		{
			name: "invalid syscall",
			builder: Builder{
				Allow:   []string{"invalid_syscall"},
				Default: ActionKill,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := tt.builder.Build()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Build() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(filter) == 0 {
				t.Fatal("Build() returned an empty filter")
			}
			prog := filter.SockFprog()
			if int(prog.Len) != len(filter) {
				t.Errorf("SockFprog length = %d, want %d", prog.Len, len(filter))
			}
		})
	}
}

// TestActionReturnCode 测试动作返回码的存取
func TestActionReturnCode(t *testing.T) {
	a := ActionErrno.WithReturnCode(42)
	if a.Action() != ActionErrno {
		t.Errorf("Action() = %v, want ActionErrno", a.Action())
	}
	if a.ReturnCode() != 42 {
		t.Errorf("ReturnCode() = %d, want 42", a.ReturnCode())
	}
}
