package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/zalando/respipe"
	"github.com/zalando/respipe/filters/builtin"
	"github.com/zalando/respipe/scheduler"
)

const (
	defaultQueueName = "default"
)

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// generic:
	Address                 string        `yaml:"address"`
	SupportListener         string        `yaml:"support-listener"`
	EnableAsync             bool          `yaml:"enable-async"`
	AsyncTimeout            time.Duration `yaml:"async-timeout"`
	ReadHeaderTimeoutServer time.Duration `yaml:"read-header-timeout-server"`
	IdleTimeoutServer       time.Duration `yaml:"idle-timeout-server"`
	ShutdownTimeout         time.Duration `yaml:"shutdown-timeout"`
	PluginDir               string        `yaml:"plugindir"`

	// logging:
	ApplicationLogLevel       log.Level `yaml:"-"`
	ApplicationLogLevelString string    `yaml:"application-log-level"`
	ApplicationLogPrefix      string    `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled bool      `yaml:"application-log-json-enabled"`
	AccessLogDisabled         bool      `yaml:"access-log-disabled"`
	AccessLogJSONEnabled      bool      `yaml:"access-log-json-enabled"`

	// metrics, tracing:
	MetricsFlavour               *listFlag `yaml:"metrics-flavour"`
	MetricsPrefix                string    `yaml:"metrics-prefix"`
	EnableFilterMetrics          bool      `yaml:"filter-metrics"`
	EnableResponseMetrics        bool      `yaml:"response-metrics"`
	EnableRuntimeMetrics         bool      `yaml:"runtime-metrics"`
	HistogramMetricBucketsString string    `yaml:"histogram-metric-buckets"`
	HistogramMetricBuckets       []float64 `yaml:"-"`
	OpenTracing                  string    `yaml:"opentracing"`

	// queues:
	MaxConcurrency int                                    `yaml:"max-concurrency"`
	MaxQueueSize   int                                    `yaml:"max-queue-size"`
	QueueTimeout   time.Duration                          `yaml:"queue-timeout"`
	Queues         map[string]scheduler.Config            `yaml:"-"`
	QueuesFlag     *yamlFlag[map[string]scheduler.Config] `yaml:"queues"`

	// filters:
	CompressEncodings *listFlag  `yaml:"compress-encodings"`
	Filters           *chainFlag `yaml:"filters"`

	// static resource:
	StaticStatus      int         `yaml:"static-status"`
	StaticBody        string      `yaml:"static-body"`
	StaticContentType string      `yaml:"static-content-type"`
	StaticHeaders     *headerFlag `yaml:"static-header"`
	Bindings          *mapFlags   `yaml:"bindings"`
}

const (
	asyncUsage        = "enables the asynchronous processing of the response filters, filters that suspend the chain fall back to blocking when disabled"
	asyncTimeoutUsage = "maximum duration for a suspended response filter chain to complete the response, 503 is returned after"
	queuesUsage       = "named queues of the offload filter, in yaml, e.g. {render: {max-concurrency: 4, max-queue-size: 100, timeout: 10s}}"
	filtersUsage      = "response filter chain executed for every request, e.g. status(201) -> compress()"
	bindingsUsage     = "values added to the ambient context of every request, key=value pairs separated by comma"
)

func NewConfig() *Config {
	cfg := new(Config)
	cfg.MetricsFlavour = commaListFlag("codahale", "prometheus")
	cfg.CompressEncodings = commaListFlag(builtin.SupportedEncodings()...)
	cfg.Filters = &chainFlag{}
	cfg.StaticHeaders = &headerFlag{}
	cfg.Bindings = &mapFlags{}
	cfg.QueuesFlag = newYamlFlag(&cfg.Queues)

	flag := flag.NewFlagSet("", flag.ExitOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// generic:
	flag.StringVar(&cfg.Address, "address", ":9090", "network address that respipe should listen on")
	flag.StringVar(&cfg.SupportListener, "support-listener", ":9911", "network address used for exposing the /metrics and /healthz endpoints. An empty value disables support endpoint.")
	flag.BoolVar(&cfg.EnableAsync, "enable-async", true, asyncUsage)
	flag.DurationVar(&cfg.AsyncTimeout, "async-timeout", 30*time.Second, asyncTimeoutUsage)
	flag.DurationVar(&cfg.ReadHeaderTimeoutServer, "read-header-timeout-server", 60*time.Second, "set ReadHeaderTimeout for http server connections")
	flag.DurationVar(&cfg.IdleTimeoutServer, "idle-timeout-server", 60*time.Second, "set IdleTimeout for http server connections")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "maximum duration to wait for the active requests when shutting down")
	flag.StringVar(&cfg.PluginDir, "plugindir", "", "set the directory to load the tracer plugins from, default is ./")

	// logging:
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", "INFO", "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", "[APP]", "prefix for each log entry")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.BoolVar(&cfg.AccessLogDisabled, "access-log-disabled", false, "when this flag is set, no access log is printed")
	flag.BoolVar(&cfg.AccessLogJSONEnabled, "access-log-json-enabled", false, "when this flag is set, log in JSON format is used")

	// metrics, tracing:
	flag.Var(cfg.MetricsFlavour, "metrics-flavour", "Metrics flavour is used to change the exposed metrics format. Supported metric formats: 'codahale' and 'prometheus', you can select both of them by using one option with ',' separated values")
	flag.StringVar(&cfg.MetricsPrefix, "metrics-prefix", "respipe.", "allows setting a custom path prefix for metrics export")
	flag.BoolVar(&cfg.EnableFilterMetrics, "filter-metrics", false, "enables the timers of the individual response filters")
	flag.BoolVar(&cfg.EnableResponseMetrics, "response-metrics", true, "enables the response timers per status code and method")
	flag.BoolVar(&cfg.EnableRuntimeMetrics, "runtime-metrics", true, "enables the Go runtime metrics")
	flag.StringVar(&cfg.HistogramMetricBucketsString, "histogram-metric-buckets", "", "use custom buckets for prometheus histograms, must be a comma-separated list of numbers")
	flag.StringVar(&cfg.OpenTracing, "opentracing", "noop", "list of arguments for opentracing (space separated), first argument is the tracer implementation")

	// queues:
	flag.IntVar(&cfg.MaxConcurrency, "max-concurrency", 0, "maximum concurrency of the default offload queue, the default queue is created when set")
	flag.IntVar(&cfg.MaxQueueSize, "max-queue-size", 0, "maximum number of jobs waiting in the default offload queue")
	flag.DurationVar(&cfg.QueueTimeout, "queue-timeout", 0, "maximum duration a job can wait in the default offload queue")
	flag.Var(cfg.QueuesFlag, "queues", queuesUsage)

	// filters:
	flag.Var(cfg.CompressEncodings, "compress-encodings", "set encodings supported for compression, the order defines priority when Accept-Header has equal quality values, see RFC 7231 section 5.3.1")
	flag.Var(cfg.Filters, "filters", filtersUsage)

	// static resource:
	flag.IntVar(&cfg.StaticStatus, "static-status", 200, "status code of the static resource")
	flag.StringVar(&cfg.StaticBody, "static-body", "", "entity of the static resource")
	flag.StringVar(&cfg.StaticContentType, "static-content-type", "", "content type of the static resource entity")
	flag.Var(cfg.StaticHeaders, "static-header", "header of the static resource in the form of Name: value, can be repeated")
	flag.Var(cfg.Bindings, "bindings", bindingsUsage)

	cfg.Flags = flag
	return cfg
}

func validate(c *Config) error {
	if _, err := log.ParseLevel(c.ApplicationLogLevelString); err != nil {
		return err
	}

	if _, err := c.parseHistogramBuckets(); err != nil {
		return err
	}

	if c.StaticStatus < 100 || c.StaticStatus > 599 {
		return fmt.Errorf("invalid static status: %d", c.StaticStatus)
	}

	if c.AsyncTimeout <= 0 {
		return fmt.Errorf("invalid async timeout: %v", c.AsyncTimeout)
	}

	if c.MaxConcurrency < 0 || c.MaxQueueSize < 0 || c.QueueTimeout < 0 {
		return fmt.Errorf("invalid default queue settings")
	}

	if _, ok := c.Queues[defaultQueueName]; ok && c.MaxConcurrency > 0 {
		return fmt.Errorf("default queue defined twice")
	}

	return nil
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ExitOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		// repeated flags are applied again after the file
		c.StaticHeaders.header = nil

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	c.HistogramMetricBuckets, _ = c.parseHistogramBuckets()
	return nil
}

func (c *Config) parseHistogramBuckets() ([]float64, error) {
	if c.HistogramMetricBucketsString == "" {
		return prometheus.DefBuckets, nil
	}

	var result []float64
	for _, v := range strings.Split(c.HistogramMetricBucketsString, ",") {
		bucket, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("unable to parse histogram-metric-buckets: %w", err)
		}

		result = append(result, bucket)
	}

	return result, nil
}

func (c *Config) queues() map[string]scheduler.Config {
	if c.MaxConcurrency == 0 {
		return c.Queues
	}

	q := make(map[string]scheduler.Config, len(c.Queues)+1)
	for name, qc := range c.Queues {
		q[name] = qc
	}

	q[defaultQueueName] = scheduler.Config{
		MaxConcurrency: c.MaxConcurrency,
		MaxQueueSize:   c.MaxQueueSize,
		Timeout:        c.QueueTimeout,
	}

	return q
}

func (c *Config) ToOptions() respipe.Options {
	return respipe.Options{
		// generic:
		Address:                 c.Address,
		SupportListener:         c.SupportListener,
		EnableAsync:             c.EnableAsync,
		AsyncTimeout:            c.AsyncTimeout,
		ReadHeaderTimeoutServer: c.ReadHeaderTimeoutServer,
		IdleTimeoutServer:       c.IdleTimeoutServer,
		ShutdownTimeout:         c.ShutdownTimeout,
		PluginDir:               c.PluginDir,

		// logging:
		ApplicationLogLevel:       c.ApplicationLogLevel,
		ApplicationLogPrefix:      c.ApplicationLogPrefix,
		ApplicationLogJSONEnabled: c.ApplicationLogJSONEnabled,
		AccessLogDisabled:         c.AccessLogDisabled,
		AccessLogJSONEnabled:      c.AccessLogJSONEnabled,

		// metrics, tracing:
		MetricsFlavours:        c.MetricsFlavour.values,
		MetricsPrefix:          c.MetricsPrefix,
		EnableFilterMetrics:    c.EnableFilterMetrics,
		EnableResponseMetrics:  c.EnableResponseMetrics,
		EnableRuntimeMetrics:   c.EnableRuntimeMetrics,
		HistogramMetricBuckets: c.HistogramMetricBuckets,
		OpenTracing:            strings.Fields(c.OpenTracing),

		// queues, filters:
		Queues:            c.queues(),
		CompressEncodings: c.CompressEncodings.values,
		Filters:           c.Filters.filters,

		// static resource:
		StaticStatus:      c.StaticStatus,
		StaticBody:        c.StaticBody,
		StaticContentType: c.StaticContentType,
		StaticHeaders:     c.StaticHeaders.header,
		Bindings:          c.Bindings.values,
	}
}
