/*
Copyright (C) 2026 Aziel Cruzado <contacto@azielcruzado.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.
*/

// Command relay is a demo entrypoint wiring a full Relay against the
// durable sqlite keystore and a stub transport, the way the teacher's
// cmd/root.go assembles its usecases before serving traffic.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/AzielCF/wa-relay-core/internal/binarynode"
	"github.com/AzielCF/wa-relay-core/internal/cache"
	"github.com/AzielCF/wa-relay-core/internal/config"
	"github.com/AzielCF/wa-relay-core/internal/devices"
	"github.com/AzielCF/wa-relay-core/internal/groupstate"
	"github.com/AzielCF/wa-relay-core/internal/identitymap"
	"github.com/AzielCF/wa-relay-core/internal/keystore"
	"github.com/AzielCF/wa-relay-core/internal/relay"
	"github.com/AzielCF/wa-relay-core/internal/sessionguard"
	"github.com/AzielCF/wa-relay-core/internal/store"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

var log = logrus.WithField("component", "cmd/relay")

// stubSender logs outbound stanzas instead of writing to a real
// socket; wiring the actual noise-framed transport is an external
// collaborator's job (spec §1 Non-goals).
type stubSender struct{}

func (stubSender) SendNode(ctx context.Context, n binarynode.Node) error {
	log.WithField("tag", n.Tag).WithField("attrs", n.Attrs).Info("would send stanza")
	return nil
}

// stubUSync, noPreKeyFetcher and noMetadataFetcher stand in for the
// wire-protocol collaborators a real deployment supplies (spec §6).
// stubUSync reports device 0 for every user; the other two always
// fail, so a send that needs a pre-key fetch or group metadata fails.
type stubUSync struct{}

func (stubUSync) QueryDevices(ctx context.Context, users []wireid.JID) ([]devices.USyncDeviceResult, error) {
	out := make([]devices.USyncDeviceResult, len(users))
	for i, u := range users {
		out[i] = devices.USyncDeviceResult{User: u, Devices: []uint16{0}}
	}
	return out, nil
}

type noPreKeyFetcher struct{}

func (noPreKeyFetcher) FetchPreKeyBundles(ctx context.Context, jids []wireid.JID) (map[string]keystore.PreKeyBundle, error) {
	return nil, fmt.Errorf("cmd/relay: pre-key fetch requires a live wire connection")
}

type noMetadataFetcher struct{}

func (noMetadataFetcher) FetchGroupMetadata(ctx context.Context, group wireid.JID) (groupstate.Metadata, error) {
	return groupstate.Metadata{}, fmt.Errorf("cmd/relay: group metadata fetch requires a live wire connection")
}

// valkeyTiers dials one ValkeyTTLCache per cache tier when the operator
// opts into the distributed backend (spec §5), each under its own key
// prefix so the identity, devices, sessions, and group caches never
// collide in the shared Valkey keyspace despite sharing a DB. Returns
// all nils when Valkey is disabled.
func valkeyTiers(cfg *config.RelayConfig) (identityTier, devicesTier, sessionsTier, groupsTier *cache.ValkeyTTLCache, err error) {
	if !cfg.ValkeyEnabled {
		return nil, nil, nil, nil, nil
	}
	dial := func(ttl time.Duration, suffix string) (*cache.ValkeyTTLCache, error) {
		return cache.NewValkeyTTLCache(cache.ValkeyConfig{
			Address:   cfg.ValkeyAddress,
			Password:  cfg.ValkeyPassword,
			DB:        cfg.ValkeyDB,
			KeyPrefix: cfg.ValkeyKeyPrefix + suffix,
		}, ttl)
	}
	if identityTier, err = dial(identitymap.CacheTTL, "identity"); err != nil {
		return nil, nil, nil, nil, err
	}
	if devicesTier, err = dial(devices.CacheTTL, "devices"); err != nil {
		return nil, nil, nil, nil, err
	}
	if sessionsTier, err = dial(sessionguard.CacheTTL, "sessions"); err != nil {
		return nil, nil, nil, nil, err
	}
	if groupsTier, err = dial(groupstate.FreshnessWindow, "groups"); err != nil {
		return nil, nil, nil, nil, err
	}
	return identityTier, devicesTier, sessionsTier, groupsTier, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Demo entrypoint for the outbound message relay core",
	}
	rootCmd.AddCommand(newSendCmd())

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("command failed")
	}
}

func newSendCmd() *cobra.Command {
	var selfJID, destJID, text string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Relay one text message to a destination JID using the local sqlite keystore",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			configureLogging(cfg.LogLevel)

			self, err := wireid.Parse(selfJID)
			if err != nil {
				return fmt.Errorf("invalid --self: %w", err)
			}
			dest, err := wireid.Parse(destJID)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}

			ks, err := store.NewSQL(store.Options{Driver: store.Driver(cfg.DatabaseDriver), DSN: cfg.DatabaseDSN}, self)
			if err != nil {
				return fmt.Errorf("opening keystore: %w", err)
			}

			identityValkey, devicesValkey, sessionsValkey, groupsValkey, err := valkeyTiers(cfg)
			if err != nil {
				return fmt.Errorf("connecting to valkey: %w", err)
			}

			idm := identitymap.New(ks, identityValkey)
			resolver := devices.New(stubUSync{}, idm, ks, devicesValkey)
			guard := sessionguard.New(noPreKeyFetcher{}, idm, ks, sessionsValkey)
			gs := groupstate.New(noMetadataFetcher{}, ks, nil, groupsValkey)

			r, err := relay.New(self, ks, stubSender{}, resolver, guard, gs, relay.Config{
				CompatV6GroupSend:        cfg.CompatV6GroupSend,
				GroupAssertChunk:         cfg.GroupAssertChunk,
				RecentMessagesCacheSize:  cfg.RecentMessagesCacheSize,
				EnableRecentMessageCache: cfg.EnableRecentMessageCache,
				MaxMsgRetryCount:         cfg.MaxMsgRetryCount,
				EmitOwnEvents:            cfg.EmitOwnEvents,
			})
			if err != nil {
				return fmt.Errorf("building relay: %w", err)
			}

			id, err := r.Send(cmd.Context(), dest, relay.Options{
				MessageType: binarynode.MessageTypeText,
				Payload:     []byte(text),
			})
			if err != nil {
				return fmt.Errorf("relay send failed: %w", err)
			}
			fmt.Println(id)
			return nil
		},
	}

	cmd.Flags().StringVar(&selfJID, "self", "", "this device's own wire JID")
	cmd.Flags().StringVar(&destJID, "to", "", "destination JID")
	cmd.Flags().StringVar(&text, "text", "", "plaintext message body")
	_ = cmd.MarkFlagRequired("self")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func configureLogging(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)
}
