package config

import (
	"flag"

	"github.com/spf13/pflag"
)

// Flag names shared by the go test harness and the CLI.
const (
	FlagTestsPath  = "integration-tests-path"
	FlagLab        = "cml-lab"
	FlagConfigFile = "cml-config"
	FlagEnvFile    = "env-file"
)

// BindFlags registers the session flags on a standard library FlagSet,
// which is what `go test` parses (go test ./... -args --cml-lab=lab.yaml).
func BindFlags(fs *flag.FlagSet, o *Options) {
	fs.StringVar(&o.TestsPath, FlagTestsPath, "", "the integration test path")
	fs.StringVar(&o.LabFile, FlagLab, "", "the CML lab topology file to use")
	fs.StringVar(&o.ConfigFile, FlagConfigFile, "", "optional YAML file supplying VIRL_*/CML_* values")
	fs.StringVar(&o.EnvFile, FlagEnvFile, "", "optional .env file supplying VIRL_*/CML_* values")
}

// BindPFlags registers the same flags on a cobra/pflag FlagSet.
func BindPFlags(fs *pflag.FlagSet, o *Options) {
	fs.StringVarP(&o.TestsPath, FlagTestsPath, "t", "", "the integration test path")
	fs.StringVarP(&o.LabFile, FlagLab, "l", "", "the CML lab topology file to use")
	fs.StringVar(&o.ConfigFile, FlagConfigFile, "", "optional YAML file supplying VIRL_*/CML_* values")
	fs.StringVar(&o.EnvFile, FlagEnvFile, "", "optional .env file supplying VIRL_*/CML_* values")
}
