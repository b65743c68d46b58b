package logutil

import (
	"testing"

	"github.com/spf13/viper"
)

func TestFromViperDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Reset()

	logger, err := FromViper()
	if err != nil {
		t.Fatalf("FromViper() error = %v", err)
	}
	if logger == nil {
		t.Fatalf("FromViper() returned nil logger")
	}
}

func TestFromViperJSON(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Reset()
	viper.Set("log.format", "json")
	viper.Set("log.level", "debug")

	if _, err := FromViper(); err != nil {
		t.Fatalf("FromViper() error = %v", err)
	}
}

func TestFromViperRejectsUnknownValues(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Reset()

	viper.Set("log.format", "xml")
	if _, err := FromViper(); err == nil {
		t.Fatalf("FromViper() error = nil, want unsupported format error")
	}

	viper.Reset()
	viper.Set("log.level", "loud")
	if _, err := FromViper(); err == nil {
		t.Fatalf("FromViper() error = nil, want unsupported level error")
	}
}
