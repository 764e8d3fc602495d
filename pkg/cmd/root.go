package cmd

import (
	"fmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stleox/chrometrace/pkg/chrome"
	"github.com/stleox/chrometrace/pkg/cmd/common"
	"github.com/stleox/chrometrace/pkg/cmd/generate"
	"github.com/stleox/chrometrace/pkg/config"
	"github.com/stleox/chrometrace/pkg/span"
	"os"
	"strings"
)

// NewViper creates a new viper instance configured.
func NewViper() *viper.Viper {
	vp := viper.New()

	// read config from a file
	vp.SetConfigName("config") // name of config file (without extension)
	vp.SetConfigType("yaml")   // useful if the given config file does not have the extension in the name
	vp.AddConfigPath(".")      // look for a config in the working directory first

	// read config from environment variables
	vp.SetEnvPrefix("chrometrace") // env var must start with CHROMETRACE_
	// replace - by _ for environment variable names
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv() // read in environment variables that match
	return vp
}

func New(vp *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "chrometrace [input]",
		Short: "Convert a span log into the Chrome trace event format",
		Long: "Convert a span log into the Chrome trace event format.\n\n" +
			"The input is a path, or - for stdin. The output is a JSON array\n" +
			"loadable by chrome://tracing and Perfetto.",
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := vp.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return err
				}
			}
			config.InitLogrus(vp)
			logrus.Debug("enabled debug mode")
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			input := config.StdStream
			if len(args) > 0 {
				input = args[0]
			}
			return convert(cmd, vp, input, vp.GetString("output"))
		},
	}

	root.PersistentFlags().Bool("debug", false, "Enable debug mode")
	root.PersistentFlags().String("compression", string(span.CompressionAuto),
		"Compression of the span log: auto, none, gzip or zstd")
	root.Flags().StringP("output", "o", config.StdStream,
		"Output file to which to write the chrome trace log")

	if err := vp.BindPFlags(root.PersistentFlags()); err != nil {
		logrus.WithError(err).Fatal("couldn't bind persistent flags")
	}
	if err := vp.BindPFlags(root.Flags()); err != nil {
		logrus.WithError(err).Fatal("couldn't bind flags")
	}
	return root
}

func convert(cmd *cobra.Command, vp *viper.Viper, input, output string) (retErr error) {
	compression, err := span.ParseCompression(vp.GetString("compression"))
	if err != nil {
		return err
	}

	in, closeIn, err := common.OpenInput(input, cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer func() {
		if err := closeIn(); err != nil {
			logrus.WithError(err).Warn("couldn't close input")
		}
	}()

	out, closeOut, err := common.OpenOutput(output, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	// flush even when the conversion fails
	defer func() {
		if err := closeOut(); err != nil && retErr == nil {
			retErr = &common.ProcessError{Err: err}
		}
	}()

	dec := span.NewReader(in, span.WithCompression(compression))
	defer func() {
		if err := dec.Close(); err != nil {
			logrus.WithError(err).Warn("couldn't release span reader")
		}
	}()

	conv := chrome.NewConverter()
	if err := conv.Convert(dec, out); err != nil {
		return &common.ProcessError{Err: err}
	}
	logrus.WithFields(logrus.Fields{
		"input":   input,
		"output":  output,
		"records": conv.Records(),
		"events":  conv.Events(),
	}).Debug("converted span log")
	return nil
}

func Execute() {
	// 全局初始化 VP 配置
	vp := NewViper()

	root := New(vp)
	root.AddCommand(generate.New(vp))

	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
