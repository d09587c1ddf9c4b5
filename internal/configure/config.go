package configure

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func checkErr(err error) {
	if err != nil {
		zap.S().Fatalw("config",
			"error", err,
		)
	}
}

func New() *Config {
	initLogging("info")

	config := viper.New()

	// Default config
	def := Config{
		ConfigFile: "config.yaml",
	}
	def.Presence.StorePath = "status/app"
	def.Presence.SetLifecycleState = true
	def.Presence.AutoDispose = true
	def.Presence.SessionTTLSeconds = 30
	def.Redis.KeyPrefix = "presence"
	def.Events.Mode = EventsModeRedis
	def.Mongo.Collection = "presence_transitions"
	def.Limits.WriteRate = 60
	def.Limits.WriteWindowSeconds = 60

	b, _ := json.Marshal(def)
	tmp := viper.New()
	defaultConfig := bytes.NewReader(b)

	tmp.SetConfigType("json")
	checkErr(tmp.ReadConfig(defaultConfig))
	checkErr(config.MergeConfigMap(tmp.AllSettings()))

	pflag.String("config", "config.yaml", "Config file location")
	pflag.Bool("noheader", false, "Disable the startup header")

	pflag.Parse()
	checkErr(config.BindPFlags(pflag.CommandLine))

	// File
	config.SetConfigFile(config.GetString("config"))
	config.AddConfigPath(".")

	if err := config.ReadInConfig(); err == nil {
		checkErr(config.MergeInConfig())
	}

	bindEnvs(config, Config{})

	// Environment
	config.AutomaticEnv()
	config.SetEnvPrefix("PRESENCE")
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AllowEmptyEnv(true)

	c := &Config{}
	checkErr(config.Unmarshal(&c))

	initLogging(c.Level)

	return c
}

func bindEnvs(config *viper.Viper, iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)

	for i := 0; i < ift.NumField(); i++ {
		v := ifv.Field(i)
		t := ift.Field(i)

		tv, ok := t.Tag.Lookup("mapstructure")
		if !ok {
			continue
		}

		switch v.Kind() {
		case reflect.Struct:
			bindEnvs(config, v.Interface(), append(parts, tv)...)
		default:
			_ = config.BindEnv(strings.Join(append(parts, tv), "."))
		}
	}
}

type EventsMode string

const (
	EventsModeRedis EventsMode = "REDIS"
	EventsModeNats  EventsMode = "NATS"
)

type Config struct {
	Level      string `mapstructure:"level" json:"level"`
	ConfigFile string `mapstructure:"config" json:"config"`
	NoHeader   bool   `mapstructure:"noheader" json:"noheader"`

	Presence struct {
		// StorePath is the base path holding one record per user ID.
		StorePath         string `mapstructure:"store_path" json:"store_path"`
		SetLifecycleState bool   `mapstructure:"set_lifecycle_state" json:"set_lifecycle_state"`
		AutoDispose       bool   `mapstructure:"auto_dispose" json:"auto_dispose"`
		// SessionTTLSeconds bounds how long a silent client keeps its
		// disconnect hooks pending.
		SessionTTLSeconds int `mapstructure:"session_ttl_seconds" json:"session_ttl_seconds"`
	} `mapstructure:"presence" json:"presence"`

	Redis struct {
		Username   string   `mapstructure:"username" json:"username"`
		Password   string   `mapstructure:"password" json:"password"`
		Database   int      `mapstructure:"db" json:"db"`
		Sentinel   bool     `mapstructure:"sentinel" json:"sentinel"`
		Addresses  []string `mapstructure:"addresses" json:"addresses"`
		MasterName string   `mapstructure:"master_name" json:"master_name"`
		KeyPrefix  string   `mapstructure:"key_prefix" json:"key_prefix"`
	} `mapstructure:"redis" json:"redis"`

	Mongo struct {
		URI        string `mapstructure:"uri" json:"uri"`
		DB         string `mapstructure:"db" json:"db"`
		Collection string `mapstructure:"collection" json:"collection"`
		Direct     bool   `mapstructure:"direct" json:"direct"`
	} `mapstructure:"mongo" json:"mongo"`

	Events struct {
		Mode EventsMode `mapstructure:"mode" json:"mode"`
		NATS struct {
			URI string `mapstructure:"uri" json:"uri"`
		} `mapstructure:"nats" json:"nats"`
	} `mapstructure:"events" json:"events"`

	Credentials struct {
		JWTSecret string `mapstructure:"jwt_secret" json:"jwt_secret"`
	} `mapstructure:"credentials" json:"credentials"`

	Http struct {
		Addr string `mapstructure:"addr" json:"addr"`
		Port int    `mapstructure:"port" json:"port"`
	} `mapstructure:"http" json:"http"`

	Bridge struct {
		Enabled bool `mapstructure:"enabled" json:"enabled"`
	} `mapstructure:"bridge" json:"bridge"`

	Limits struct {
		// WriteRate is the number of lifecycle writes allowed per identifier
		// per window.
		WriteRate          int64 `mapstructure:"write_rate" json:"write_rate"`
		WriteWindowSeconds int   `mapstructure:"write_window_seconds" json:"write_window_seconds"`
	} `mapstructure:"limits" json:"limits"`

	Health struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Bind    string `mapstructure:"bind" json:"bind"`
	} `mapstructure:"health" json:"health"`

	PProf struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Bind    string `mapstructure:"bind" json:"bind"`
	} `mapstructure:"pprof" json:"pprof"`

	Monitoring struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Bind    string `mapstructure:"bind" json:"bind"`
		Labels  Labels `mapstructure:"labels" json:"labels"`
	} `mapstructure:"monitoring" json:"monitoring"`
}

type Labels []struct {
	Key   string `mapstructure:"key" json:"key"`
	Value string `mapstructure:"value" json:"value"`
}

func (l Labels) ToPrometheus() map[string]string {
	m := map[string]string{}
	for _, v := range l {
		m[v.Key] = v.Value
	}

	return m
}
