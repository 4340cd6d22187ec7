/*
Copyright © 2019 the MetCube authors.
This file is part of MetCube.

MetCube is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

MetCube is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with MetCube.  If not, see <http://www.gnu.org/licenses/>.
*/

package metcubeutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/metcube"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to MetCube.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Ranges",
			usage: `
              Ranges restricts the coordinate axes of the input data, in the
              format {"axis":"min,max"}. Ranges on axes a given variable does
              not have are skipped for that variable.`,
			defaultVal: map[string]string{},
			flagsets: []*pflag.FlagSet{anomalyCmd.Flags(), productsCmd.Flags(),
				exportCmd.Flags(), statsCmd.PersistentFlags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the path of the file the results should be saved in.
              Files ending in .nc are written as NetCDF; the export command also
              accepts .shp for shapefile output.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags(), productsCmd.Flags(), exportCmd.Flags()},
		},
		{
			name: "Anomaly.ScenarioData",
			usage: `
              Anomaly.ScenarioData is the path to the event dataset: either a
              NetCDF file or a TOML grid descriptor. The path can include
              environment variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "Anomaly.ScenarioVariable",
			usage: `
              Anomaly.ScenarioVariable is the name of the variable to read from
              the event dataset.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "Anomaly.ScenarioScale",
			usage: `
              Anomaly.ScenarioScale multiplies the scenario variable by a
              constant factor. It cannot be combined with
              Anomaly.ScenarioFromUnits and Anomaly.ScenarioToUnits.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "Anomaly.ScenarioFromUnits",
			usage: `
              Anomaly.ScenarioFromUnits gives the units the scenario variable is
              stored in, for example "kg kg-1". Together with
              Anomaly.ScenarioToUnits it derives the normalization factor with a
              dimensional consistency check.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "Anomaly.ScenarioToUnits",
			usage: `
              Anomaly.ScenarioToUnits gives the units the scenario variable
              should be converted to, for example "g kg-1".`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "Anomaly.ClimatologyData",
			usage: `
              Anomaly.ClimatologyData is the path to the reference baseline
              dataset the event composite is differenced against.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "Anomaly.ClimatologyVariable",
			usage: `
              Anomaly.ClimatologyVariable is the name of the baseline variable.
              The default is the scenario variable name.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "Anomaly.ClimatologyScale",
			usage: `
              Anomaly.ClimatologyScale multiplies the baseline variable by a
              constant factor.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "Anomaly.ClimatologyFromUnits",
			usage: `
              Anomaly.ClimatologyFromUnits gives the units the baseline variable
              is stored in.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "Anomaly.ClimatologyToUnits",
			usage: `
              Anomaly.ClimatologyToUnits gives the units the baseline variable
              should be converted to.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "Anomaly.MaskData",
			usage: `
              Anomaly.MaskData is the path to a dataset holding an indicator
              mask to apply to the anomaly. Leave empty to skip masking.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "Anomaly.MaskVariable",
			usage: `
              Anomaly.MaskVariable is the name of the mask variable in
              Anomaly.MaskData. Mask values must be within [0, 1].`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "Anomaly.ReduceAxes",
			usage: `
              Anomaly.ReduceAxes lists the axes the event data should be
              averaged over before differencing, typically the ensemble member
              and time axes.`,
			defaultVal: []string{"member"},
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "Anomaly.OutputName",
			usage: `
              Anomaly.OutputName is the name of the output variable. The default
              appends "_anom" to the scenario variable name.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{anomalyCmd.Flags()},
		},
		{
			name: "Products.Dataset",
			usage: `
              Products.Dataset is the path to the dataset holding the ensemble
              temperature, pressure, humidity, and wind variables the products
              are derived from.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{productsCmd.Flags()},
		},
		{
			name: "Products.WRF",
			usage: `
              Products.WRF specifies whether the dataset holds raw WRF output,
              with perturbation potential temperature and staggered winds. If
              false, the variables are taken to be air temperature and pressure
              on mass points.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{productsCmd.Flags()},
		},
		{
			name: "Products.MemberAxis",
			usage: `
              Products.MemberAxis is the name of the ensemble member axis.`,
			defaultVal: "member",
			flagsets:   []*pflag.FlagSet{productsCmd.Flags()},
		},
		{
			name: "Products.Temperature",
			usage: `
              Products.Temperature is the name of the temperature variable.
              The default is T for WRF data and t otherwise.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{productsCmd.Flags()},
		},
		{
			name: "Products.Pressure",
			usage: `
              Products.Pressure is the name of the pressure variable. The
              default is P for WRF data and p otherwise.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{productsCmd.Flags()},
		},
		{
			name: "Products.BasePressure",
			usage: `
              Products.BasePressure is the name of the base-state pressure
              variable added to the perturbation pressure for WRF data. The
              default is PB; it is unused otherwise.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{productsCmd.Flags()},
		},
		{
			name: "Products.Humidity",
			usage: `
              Products.Humidity is the name of the water vapor mixing ratio
              variable. The default is QVAPOR for WRF data and q otherwise.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{productsCmd.Flags()},
		},
		{
			name: "Products.UWind",
			usage: `
              Products.UWind is the name of the west-east wind variable. The
              default is U for WRF data and u otherwise. Wind products are
              skipped when the dataset has no wind variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{productsCmd.Flags()},
		},
		{
			name: "Products.VWind",
			usage: `
              Products.VWind is the name of the south-north wind variable. The
              default is V for WRF data and v otherwise.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{productsCmd.Flags()},
		},
		{
			name: "Export.Dataset",
			usage: `
              Export.Dataset is the path to the dataset the export expressions
              read their input variables from.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{exportCmd.Flags()},
		},
		{
			name: "Export.Variables",
			usage: `
              Export.Variables maps names of output variables to the
              expressions they are calculated from, in the format
              {"var":"expression"}. Expressions may combine dataset variables
              with arithmetic operators and the functions exp, log, log10,
              sqrt, abs, min, and max.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{exportCmd.Flags()},
		},
		{
			name: "Stats.Dataset",
			usage: `
              Stats.Dataset is the path to the dataset whose variables should be
              summarized.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{statsCmd.PersistentFlags()},
		},
		{
			name: "Stats.Variables",
			usage: `
              Stats.Variables lists the variables or sample columns to
              summarize. The default is all of them.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{statsCmd.PersistentFlags()},
		},
		{
			name: "Stats.SampleFile",
			usage: `
              Stats.SampleFile is the path to a CSV or XLSX table of named
              sample columns to summarize instead of a dataset. The first row
              holds the column names.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{statsCmd.PersistentFlags()},
		},
		{
			name: "Stats.Mean",
			usage: `
              Stats.Mean is the null-hypothesis mean each sample is tested
              against.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{ttestCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("METCUBE")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(anomalyCmd)
	Root.AddCommand(productsCmd)
	Root.AddCommand(exportCmd)
	Root.AddCommand(statsCmd)
	statsCmd.AddCommand(ttestCmd)
}

// outChan returns a channel printing to standard output.
func outChan() chan string {
	outChan := make(chan string)
	go func() {
		for {
			msg := <-outChan
			fmt.Printf(msg)
		}
	}()
	return outChan
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("metcube: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "metcube",
	Short: "An analysis tool for gridded meteorological data.",
	Long: `MetCube reads gridded meteorological datasets and derives anomaly and
thermodynamic products from them. Use the subcommands specified below to
access the functionality.

Refer to the subcommand documentation for configuration options and default
settings. Configuration can be changed by using a configuration file (and
providing the path to the file using the --config flag), by using
command-line arguments, or by setting environment variables in the format
'METCUBE_var' where 'var' is the name of the variable to be set. Many
configuration variables are additionally allowed to contain environment
variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of MetCube.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("MetCube v%s\n", metcube.Version)
	},
	DisableAutoGenTag: true,
}

// anomalyCmd is a command that runs the anomaly pipeline.
var anomalyCmd = &cobra.Command{
	Use:   "anomaly",
	Short: "Calculate an anomaly against a climatology.",
	Long: `anomaly loads an event variable and a reference climatology, normalizes
their units, averages the event data over the configured axes, and
subtracts the climatology from the result, optionally applying an
indicator mask. The anomaly is saved to OutputFile as NetCDF and a
one-line summary of it is printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := anomalyConfig(Cfg)
		if err != nil {
			return err
		}
		outputFile, err := checkOutputFile(Cfg.GetString("OutputFile"))
		if err != nil {
			return err
		}
		c.OutputFile = outputFile
		return Anomaly(context.Background(), c, os.Stdout)
	},
	DisableAutoGenTag: true,
}

// productsCmd is a command that derives thermodynamic products from
// ensemble model output.
var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Derive thermodynamic products",
	Long: `products derives equivalent potential temperature, its horizontal
gradient components and gradient magnitude, and, where wind variables are
available, vorticity and divergence from every member of an ensemble
dataset, stacking the results along the member axis and saving them to
OutputFile as NetCDF.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := productsConfig(Cfg)
		if err != nil {
			return err
		}
		outputFile, err := checkOutputFile(Cfg.GetString("OutputFile"))
		if err != nil {
			return err
		}
		c.OutputFile = outputFile
		return Products(context.Background(), c, os.Stdout)
	},
	DisableAutoGenTag: true,
}

// exportCmd is a command that evaluates output expressions and saves the
// results.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Evaluate and save output expressions",
	Long: `export evaluates the expressions in Export.Variables over the
variables of a dataset and saves the results to OutputFile. Files ending
in .shp are written as one shapefile per output variable for use in GIS
programs; any other extension is written as NetCDF.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Export(Cfg)
	},
	DisableAutoGenTag: true,
}

// statsCmd is a command that summarizes data.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize variables or sample tables",
	Long: `stats prints descriptive statistics for the variables of a dataset or
for the columns of a CSV or XLSX sample table.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Stats(Cfg, os.Stdout)
	},
	DisableAutoGenTag: true,
}

// ttestCmd is a command that tests sample means.
var ttestCmd = &cobra.Command{
	Use:   "ttest",
	Short: "Test sample means against a reference",
	Long: `ttest performs a two-sided one-sample t-test of whether the mean of
each variable or sample column differs from Stats.Mean, printing the t
statistic and p value for each.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return TTestRun(Cfg, os.Stdout)
	},
	DisableAutoGenTag: true,
}
