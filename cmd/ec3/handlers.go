package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ec3_lib/nn/bench"
	"ec3_lib/tensor"
	"ec3_lib/utils"
	"ec3_lib/vision"

	"github.com/spf13/cobra"
)

func summaryHandler(cmd *cobra.Command, o *options, perLayer bool) error {
	net, err := o.buildNet()
	if err != nil {
		return err
	}
	x := tensor.New(1, 3, o.Size, o.Size)
	stats, out, err := bench.Profile(net, x, net.Device())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if perLayer {
		bench.WriteLayers(w, stats)
		fmt.Fprintln(w)
	}
	bench.WriteSummary(w, stats, bench.CountParams(net))
	fmt.Fprintf(w, "Output shape: %v\n", out.Shape)
	return nil
}

func benchHandler(cmd *cobra.Command, o *options, batch, warmup, iters int) error {
	if batch <= 0 {
		return errors.New("batch must be positive")
	}
	start := time.Now()
	net, err := o.buildNet()
	if err != nil {
		return err
	}
	initTime := time.Since(start)

	slog.Info("benchmarking", "classes", o.Classes, "p", o.P, "q", o.Q, "stage2", o.Stage2,
		"size", o.Size, "batch", batch, "workers", net.Device().Workers)
	stats, err := bench.RunForward(net, tensor.New(batch, 3, o.Size, o.Size), warmup, iters)
	if err != nil {
		return err
	}
	stats.ModelInitTime = initTime
	stats.TotalTime += initTime

	utils.Output = cmd.OutOrStdout()
	utils.PrintTimingStats(stats)
	return nil
}

type segmentArgs struct {
	weights, input, output string
	strict, raw            bool
}

func segmentHandler(cmd *cobra.Command, o *options, a segmentArgs) error {
	stats := &utils.TimingStats{}
	start := time.Now()
	net, err := o.buildNet()
	if err != nil {
		return err
	}
	stats.ModelInitTime = time.Since(start)

	t := time.Now()
	sd, err := utils.LoadStateDictFile(a.weights)
	if err != nil {
		return err
	}
	if err := net.LoadStateDict(sd, a.strict); err != nil {
		return fmt.Errorf("%s: %w", a.weights, err)
	}
	stats.WeightLoad = time.Since(t)

	img, err := vision.LoadImage(a.input)
	if err != nil {
		return err
	}
	x, err := vision.ToTensor(img, o.Size, o.Size, vision.ImageNet)
	if err != nil {
		return err
	}

	t = time.Now()
	scores, err := net.Forward(x)
	if err != nil {
		return err
	}
	d := time.Since(t)
	stats.ForwardTimes = []time.Duration{d}
	stats.MeanUS = utils.DurationUS(d)
	stats.MinTime, stats.MaxTime = d, d

	labels, err := vision.Labels(scores)
	if err != nil {
		return err
	}
	if !a.raw {
		labels = vision.Visible(labels, max(o.Classes, 2))
	}
	b := img.Bounds()
	mask := vision.ResizeMask(labels, b.Dx(), b.Dy())
	if err := vision.SavePNG(a.output, mask); err != nil {
		return err
	}
	stats.TotalTime = time.Since(start)

	slog.Info("mask written", "output", a.output, "width", b.Dx(), "height", b.Dy())
	utils.Output = cmd.OutOrStdout()
	utils.PrintTimingStats(stats)
	return nil
}

func convertHandler(cmd *cobra.Command, o *options, src, dst string) error {
	dtype, err := utils.ParseDType(o.DType)
	if err != nil {
		return err
	}
	sd, err := utils.LoadStateDictFile(src)
	if err != nil {
		return err
	}
	mw, err := utils.NewModelWeights(sd, nil, dtype)
	if err != nil {
		return err
	}
	if err := utils.SaveWeights(dst, mw); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "converted %d tensors from %s to %s (%s)\n", sd.Len(), src, dst, dtype)
	return nil
}

func initHandler(cmd *cobra.Command, o *options, dst string) error {
	dtype, err := utils.ParseDType(o.DType)
	if err != nil {
		return err
	}
	net, err := o.buildNet()
	if err != nil {
		return err
	}
	mw, err := utils.NewModelWeights(net.StateDict(), net.Config, dtype)
	if err != nil {
		return err
	}
	if err := utils.SaveWeights(dst, mw); err != nil {
		return err
	}
	counts := bench.CountParams(net)
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d tensors (%s parameters) to %s\n",
		net.StateDict().Len(), bench.FormatParams(counts.Learnable), dst)
	return nil
}
