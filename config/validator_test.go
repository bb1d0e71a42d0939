package config

import "testing"

type hostTestStruct struct {
	Host string `validate:"host"`
}

type envTestStruct struct {
	Env string `validate:"env"`
}

func TestValidateHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"", true},
		{"localhost", true},
		{"127.0.0.1", true},
		{"board.example.com", true},
		{"[::1]", true},
		{"invalid host", false},
		{"host/path", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			err := validate.Struct(hostTestStruct{Host: tt.host})
			if tt.want && err != nil {
				t.Errorf("expected %q to be valid, got %v", tt.host, err)
			}
			if !tt.want && err == nil {
				t.Errorf("expected %q to be invalid", tt.host)
			}
		})
	}
}

func TestValidateEnvironment(t *testing.T) {
	for _, env := range []string{"development", "staging", "production"} {
		if err := validate.Struct(envTestStruct{Env: env}); err != nil {
			t.Errorf("environment %q should be valid: %v", env, err)
		}
	}
	if err := validate.Struct(envTestStruct{Env: "qa"}); err == nil {
		t.Error("environment 'qa' should be invalid")
	}
}

func TestIsValidHostChar(t *testing.T) {
	for _, r := range "az09AZ.-:[]" {
		if !isValidHostChar(r) {
			t.Errorf("expected %q to be valid", r)
		}
	}
	for _, r := range " /_@" {
		if isValidHostChar(r) {
			t.Errorf("expected %q to be invalid", r)
		}
	}
}
