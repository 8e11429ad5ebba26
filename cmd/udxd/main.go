// udxd is the sender-side driver daemon: it owns one UDP channel and the
// publications streaming over it.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/NVIDIA/udx/conf"
	"github.com/NVIDIA/udx/driver"
	"github.com/NVIDIA/udx/udp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgPath  string
	channel  string
	streamID int32
	logLevel string
)

func main() {
	root := &cobra.Command{
		Use:           "udxd",
		Short:         "UDP streaming driver (sender side)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (JSON)")
	root.Flags().StringVar(&channel, "channel", "", "channel URI, e.g. udp://239.255.0.1:40456?ttl=4")
	root.Flags().Int32Var(&streamID, "stream", 1001, "stream id")
	root.Flags().StringVar(&logLevel, "log-level", "info", "logrus level")
	cobra.CheckErr(root.MarkFlagRequired("channel"))

	if err := root.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func run(*cobra.Command, []string) error {
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	config, err := conf.Load(cfgPath)
	if err != nil {
		return err
	}
	ch, err := udp.ParseChannel(channel, udp.DefaultResolver)
	if err != nil {
		return err
	}
	ep, err := udp.Dial(ch)
	if err != nil {
		return err
	}
	defer ep.Close()

	d := driver.New(config, ep)
	if config.PromPort > 0 {
		reg := prometheus.NewRegistry()
		reg.MustRegister(d.System())
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			addr := ":" + strconv.Itoa(config.PromPort)
			if err := http.ListenAndServe(addr, nil); err != nil {
				logrus.WithError(err).Error("metrics endpoint")
			}
		}()
	}

	d.Run()
	p, err := d.AddPublication(streamID, false)
	if err != nil {
		d.Stop()
		return err
	}
	logrus.WithFields(logrus.Fields{
		"channel": ch.CanonicalForm(),
		"log":     p.LogFileName(),
	}).Info("publication ready; producers may attach")
	fmt.Println(p.LogFileName())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logrus.Infof("Terminated via signal (%v)", s)

	d.RemovePublication(p)
	d.Stop()
	return nil
}
