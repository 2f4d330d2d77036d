package main

import (
	"flag"

	"github.com/dudu/retinaface/internal/config"
)

// overrides maps flags onto the config. With a config file only flags
// given on the command line apply; without one the flag defaults do too.
func overrides(cfg Config) config.Overrides {
	given := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { given[f.Name] = true })

	use := func(names ...string) bool {
		if cfg.ConfigPath == "" {
			return true
		}
		for _, n := range names {
			if given[n] {
				return true
			}
		}
		return false
	}

	var o config.Overrides
	if use("network") {
		o.Network = &cfg.Network
	}
	if cfg.Weights != "" {
		o.ModelPath = &cfg.Weights
	}
	if use("conf-threshold") {
		v := float32(cfg.ConfThreshold)
		o.ConfThreshold = &v
	}
	if use("nms-threshold") {
		v := float32(cfg.NMSThreshold)
		o.NMSThreshold = &v
	}
	if use("pre-nms-topk") {
		o.PreNMSTopK = &cfg.PreNMSTopK
	}
	if use("post-nms-topk") {
		o.PostNMSTopK = &cfg.PostNMSTopK
	}
	if use("vis-threshold", "v") {
		v := float32(cfg.VisThreshold)
		o.VisThreshold = &v
	}
	return o
}
