package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "spectralnoise",
	Short: "A spectral noise texture generator",
	Long: `spectralnoise synthesizes grayscale noise textures with a chosen spectral color.

White noise is an unshaped uniform field. Red, blue, green and purple noise are
shaped by repeated Gaussian blur arithmetic, with the value histogram flattened
after every round so the output always spans the full 8-bit range.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("output-dir", "./textures", "Output directory for generated textures")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().Bool("strict-bands", false, "Reject green/purple noise whose low sigma is not below its high sigma")
	rootCmd.PersistentFlags().String("blur", "float", "Gaussian blur: float (exact) or gift (16-bit, gift library)")

	for _, name := range []string{"output-dir", "verbose", "strict-bands", "blur"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("SPECTRALNOISE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
