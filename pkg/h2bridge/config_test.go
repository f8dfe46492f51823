package h2bridge

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Server {
		t.Error("Server = false, want true")
	}
	if cfg.MaxContentLength != 1<<20 {
		t.Errorf("MaxContentLength = %d, want %d", cfg.MaxContentLength, 1<<20)
	}
	if !cfg.ValidateHeaders {
		t.Error("ValidateHeaders = false, want true")
	}
	if cfg.Logger == nil {
		t.Error("Logger = nil, want silent logger")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name             string
		maxContentLength int
		wantErr          bool
	}{
		{"positive", 1, false},
		{"zero", 0, true},
		{"negative", -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MaxContentLength = tt.maxContentLength
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidateFillsNilLogger(t *testing.T) {
	cfg := Config{MaxContentLength: 1}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Logger == nil {
		t.Error("Validate() left Logger nil")
	}
}
