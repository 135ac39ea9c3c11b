package cli

import (
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/jdziat/tenant-jobs/pkg/config"
)

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as JOBS_* variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			v := reflect.ValueOf(cfg)
			t := v.Type()
			for i := 0; i < t.NumField(); i++ {
				name := t.Field(i).Tag.Get("env")
				if name == "" {
					continue
				}
				fmt.Fprintf(out, "%s%s=%v\n", config.EnvPrefix, name, v.Field(i).Interface())
			}
			return nil
		},
	}
}
