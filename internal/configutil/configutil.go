// Package configutil resolves settings that can arrive either as a command
// flag or a viper key. An explicitly set flag always wins; otherwise the
// viper value is used, falling back to the flag default.
package configutil

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func FlagOrViperString(cmd *cobra.Command, flagName, viperKey string) string {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, _ := cmd.Flags().GetString(flagName)
		return v
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetString(viperKey)
	}
	if cmd != nil && flagName != "" {
		v, _ := cmd.Flags().GetString(flagName)
		return v
	}
	return ""
}

func FlagOrViperStringArray(cmd *cobra.Command, flagName, viperKey string) []string {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, _ := cmd.Flags().GetStringArray(flagName)
		return v
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetStringSlice(viperKey)
	}
	if cmd != nil && flagName != "" {
		v, _ := cmd.Flags().GetStringArray(flagName)
		return v
	}
	return nil
}

func FlagOrViperBool(cmd *cobra.Command, flagName, viperKey string) bool {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, _ := cmd.Flags().GetBool(flagName)
		return v
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetBool(viperKey)
	}
	if cmd != nil && flagName != "" {
		v, _ := cmd.Flags().GetBool(flagName)
		return v
	}
	return false
}

func FlagOrViperInt(cmd *cobra.Command, flagName, viperKey string) int {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, _ := cmd.Flags().GetInt(flagName)
		return v
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetInt(viperKey)
	}
	if cmd != nil && flagName != "" {
		v, _ := cmd.Flags().GetInt(flagName)
		return v
	}
	return 0
}

func FlagOrViperFloat64(cmd *cobra.Command, flagName, viperKey string) float64 {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, _ := cmd.Flags().GetFloat64(flagName)
		return v
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetFloat64(viperKey)
	}
	if cmd != nil && flagName != "" {
		v, _ := cmd.Flags().GetFloat64(flagName)
		return v
	}
	return 0
}

func FlagOrViperDuration(cmd *cobra.Command, flagName, viperKey string) time.Duration {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		v, _ := cmd.Flags().GetDuration(flagName)
		return v
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetDuration(viperKey)
	}
	if cmd != nil && flagName != "" {
		v, _ := cmd.Flags().GetDuration(flagName)
		return v
	}
	return 0
}
