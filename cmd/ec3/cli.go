package main

import (
	"fmt"
	"strings"

	"ec3_lib/core/device"
	"ec3_lib/nn"
	"ec3_lib/nn/bench"
	"ec3_lib/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// options is shared by every subcommand; persistent flags write into it.
type options struct {
	utils.Config
	Model string
}

// applyModel copies the named preset into o, leaving alone the network
// flags the user set explicitly.
func (o *options) applyModel(flags *pflag.FlagSet) error {
	if o.Model == "" {
		return nil
	}
	cfg, ok := bench.Models[o.Model]
	if !ok {
		return fmt.Errorf("unknown model %q (have %s)", o.Model, strings.Join(bench.ModelNames(), ", "))
	}
	if !flags.Changed("classes") {
		o.Classes = cfg.Classes
	}
	if !flags.Changed("p") {
		o.P = cfg.P
	}
	if !flags.Changed("q") {
		o.Q = cfg.Q
	}
	if !flags.Changed("stage2") {
		o.Stage2 = cfg.Stage2
	}
	return nil
}

func (o *options) netConfig() nn.Config {
	return nn.Config{Classes: o.Classes, P: o.P, Q: o.Q, Stage2: o.Stage2}
}

func (o *options) device() *device.Device {
	return device.New(o.Threads, o.Seed)
}

// buildNet constructs the network, loading the encoder checkpoint given by
// --enc if any.
func (o *options) buildNet() (*nn.ExtremeC3Net, error) {
	return nn.NewSmall(o.netConfig(), o.device(), o.EncFile)
}

// NewCLI returns the root command.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false
	o := &options{Config: utils.DefaultConfig()}

	rootCmd := &cobra.Command{
		Use:           "ec3",
		Short:         "ExtremeC3Net segmentation on the CPU",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			utils.InitLogging(cmd.ErrOrStderr())
			if err := o.applyModel(cmd.Flags()); err != nil {
				return err
			}
			return utils.ValidateConfig(&o.Config)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&o.Model, "model", "", "Preset network ("+strings.Join(bench.ModelNames(), ", ")+")")
	flags.IntVar(&o.Classes, "classes", o.Classes, "Number of output classes")
	flags.IntVar(&o.P, "p", o.P, "Residual modules at the second stage")
	flags.IntVar(&o.Q, "q", o.Q, "Residual modules at the third stage")
	flags.BoolVar(&o.Stage2, "stage2", o.Stage2, "Upsample the head to full resolution")
	flags.IntVar(&o.Threads, "threads", o.Threads, "Kernel workers, 0 for one per CPU (EC3_NUM_THREADS)")
	flags.Uint64Var(&o.Seed, "seed", o.Seed, "Weight initialisation seed (EC3_SEED)")
	flags.IntVar(&o.Size, "size", o.Size, "Square input resolution, a multiple of 4")
	flags.StringVar(&o.EncFile, "enc", "", "Pretrained encoder checkpoint (.pth or .json) to copy by name")

	rootCmd.AddCommand(
		newSummaryCmd(o),
		newBenchCmd(o),
		newSegmentCmd(o),
		newConvertCmd(o),
		newInitCmd(o),
	)
	return rootCmd
}

func newSummaryCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print parameter counts, MACs and output shapes per stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			perLayer, _ := cmd.Flags().GetBool("layers")
			return summaryHandler(cmd, o, perLayer)
		},
	}
	cmd.Flags().Bool("layers", false, "Also list every layer")
	return cmd
}

func newBenchCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure forward latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			iters, _ := cmd.Flags().GetInt("iters")
			warmup, _ := cmd.Flags().GetInt("warmup")
			batch, _ := cmd.Flags().GetInt("batch")
			return benchHandler(cmd, o, batch, warmup, iters)
		},
	}
	cmd.Flags().Int("iters", 10, "Timed forward passes")
	cmd.Flags().Int("warmup", 2, "Untimed forward passes before measuring")
	cmd.Flags().Int("batch", 1, "Images per forward pass")
	return cmd
}

func newSegmentCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "segment",
		Short: "Segment an image and write the mask as PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			weights, _ := cmd.Flags().GetString("weights")
			input, _ := cmd.Flags().GetString("input")
			output, _ := cmd.Flags().GetString("output")
			strict, _ := cmd.Flags().GetBool("strict")
			raw, _ := cmd.Flags().GetBool("raw")
			return segmentHandler(cmd, o, segmentArgs{
				weights: weights, input: input, output: output, strict: strict, raw: raw,
			})
		},
	}
	cmd.Flags().String("weights", "", "Trained checkpoint (.pth or .json)")
	cmd.Flags().String("input", "", "Input image")
	cmd.Flags().String("output", "mask.png", "Output PNG")
	cmd.Flags().Bool("strict", true, "Require the checkpoint to match the model exactly")
	cmd.Flags().Bool("raw", false, "Write class indices instead of a stretched gray mask")
	_ = cmd.MarkFlagRequired("weights")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newConvertCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert SOURCE DEST",
		Short: "Convert a PyTorch checkpoint to the native JSON format",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return convertHandler(cmd, o, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&o.DType, "dtype", o.DType, "Element type: f64, f32, f16 or bf16")
	return cmd
}

func newInitCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init DEST",
		Short: "Write freshly initialised weights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return initHandler(cmd, o, args[0])
		},
	}
	cmd.Flags().StringVar(&o.DType, "dtype", o.DType, "Element type: f64, f32, f16 or bf16")
	return cmd
}
