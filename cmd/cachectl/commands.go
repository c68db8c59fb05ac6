package main

import (
	"os"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/HongKai-hskd/vibeMusic/cache"
	"github.com/HongKai-hskd/vibeMusic/config"
)

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the cache store is reachable",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			p, ok := a.store.(cache.Pinger)
			if !ok {
				return a.report(cache.ErrUnsupported, "ping")
			}
			started := time.Now()
			if err := p.PingContext(cmd.Context()); err != nil {
				return a.report(err, "ping %s", a.cfg.RedisTarget())
			}
			cmd.Printf("PONG from %s in %s\n", a.cfg.RedisTarget(), time.Since(started).Round(time.Microsecond))
			return nil
		}),
	}
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(a.cfg)
			if err != nil {
				return a.report(err, "config")
			}
			cmd.Print(string(out))
			return nil
		}),
	}
}

type entryView struct {
	Key        string `yaml:"key"`
	Kind       string `yaml:"kind"`
	Size       int    `yaml:"size,omitempty"`
	TTL        string `yaml:"ttl,omitempty"`
	ExpireTime string `yaml:"expire_time,omitempty"`
	Expired    bool   `yaml:"expired,omitempty"`
	Payload    string `yaml:"payload,omitempty"`
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <key>",
		Short: "Show what is cached under a key",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			key := args[0]
			e, err := a.client.Inspect(cmd.Context(), key)
			if err != nil {
				return a.report(err, "inspect %s", key)
			}
			view := entryView{Key: key, Kind: "absent"}
			if e.Found {
				view.Size = len(e.Payload)
				switch {
				case e.Sentinel:
					view.Kind = "sentinel"
				case e.ExpireTime != nil:
					view.Kind = "envelope"
					view.ExpireTime = e.ExpireTime.Format(time.RFC3339)
					view.Expired = e.Expired
				default:
					view.Kind = "value"
				}
				if utf8.ValidString(e.Payload) {
					view.Payload = e.Payload
				}
				if ttl, err := a.redis.TTL(cmd.Context(), a.redisKey(key)).Result(); err == nil && ttl > 0 {
					view.TTL = ttl.Round(time.Second).String()
				}
			}
			out, err := yaml.Marshal(view)
			if err != nil {
				return a.report(err, "inspect %s", key)
			}
			cmd.Print(string(out))
			return nil
		}),
	}
}

// redisKey is the key as stored in Redis, after the configured key prefix.
func (a *app) redisKey(key string) string {
	if a.cfg.Redis.KeyPrefix == "" {
		return key
	}
	return a.cfg.Redis.KeyPrefix + ":" + key
}

func newEvictCmd(a *app) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "evict [key]",
		Short: "Evict one key, or every key under --namespace",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if namespace != "" {
				n, err := a.client.EvictNamespace(cmd.Context(), namespace)
				if err != nil {
					return a.report(err, "evict namespace %s", namespace)
				}
				cmd.Printf("evicted %d keys under %s\n", n, namespace)
				return nil
			}
			if len(args) == 0 {
				return a.report(cache.ErrInvalidKey, "evict: a key or --namespace is required")
			}
			deleted, err := a.client.Evict(cmd.Context(), args[0])
			if err != nil {
				return a.report(err, "evict %s", args[0])
			}
			if deleted {
				cmd.Printf("evicted %s\n", args[0])
			} else {
				cmd.Printf("%s was not cached\n", args[0])
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "evict every key with this prefix")
	return cmd
}

func newWarmCmd(a *app) *cobra.Command {
	var (
		file      string
		namespace string
		ttl       string
		logical   bool
	)
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Load records from a YAML file into the cache",
		Long: `Load records from a YAML file into the cache.

The file maps record ids to records:

  42:
    songId: 42
    songName: Blue
  43:
    songId: 43
    songName: Rain

Each record is written under <namespace><id>. With --logical the records are
written as logical-expire envelopes that never expire in Redis.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			d, err := config.ParseDuration(ttl)
			if err != nil {
				return a.report(err, "warm")
			}
			if d <= 0 {
				return a.report(errors.New("ttl must be positive"), "warm")
			}
			buf, err := os.ReadFile(file)
			if err != nil {
				return a.report(err, "warm")
			}
			var records map[string]interface{}
			if err := yaml.Unmarshal(buf, &records); err != nil {
				return a.report(err, "warm: parse %s", file)
			}
			ids := make([]string, 0, len(records))
			for id := range records {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				key := cache.Key(namespace, id)
				if logical {
					err = cache.SetWithLogicalExpire(cmd.Context(), a.client, key, records[id], d.Std())
				} else {
					err = cache.Set(cmd.Context(), a.client, key, records[id], d.Std())
				}
				if err != nil {
					return a.report(err, "warm %s", key)
				}
				a.logger.Debug("warmed %s", key)
			}
			cmd.Printf("warmed %d keys under %s\n", len(ids), namespace)
			return nil
		}),
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML file of records keyed by id")
	cmd.Flags().StringVar(&namespace, "namespace", "", "key prefix, for example music:song:")
	cmd.Flags().StringVar(&ttl, "ttl", "30m", "lifetime of the warmed entries")
	cmd.Flags().BoolVar(&logical, "logical", false, "write logical-expire envelopes")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("namespace")
	return cmd
}
