// Package tracing starts the global opentracing tracer and carries span
// contexts across sessions.
package tracing

import (
	"fmt"
	"io"

	logging "github.com/ipfs/go-log"
	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"go.elastic.co/apm/module/apmot"
)

var logger = logging.Logger("tracing")

// System is the tracing backend a node reports to.
type System int

const (
	NoTracing System = iota
	JaegerTracing
	ElasticTracing
)

// ParseSystem maps the configuration names "", "jaeger" and "elastic".
func ParseSystem(s string) (System, error) {
	switch s {
	case "":
		return NoTracing, nil
	case "jaeger":
		return JaegerTracing, nil
	case "elastic":
		return ElasticTracing, nil
	default:
		return NoTracing, fmt.Errorf("only 'jaeger' and 'elastic' are supported for tracing")
	}
}

var Enabled bool

var jaegerCloser io.Closer

// Start starts system under serviceName. NoTracing does nothing.
func Start(system System, serviceName string) {
	switch system {
	case JaegerTracing:
		StartJaeger(serviceName)
	case ElasticTracing:
		StartElastic()
	}
}

func StartElastic() {
	Enabled = true
	opentracing.SetGlobalTracer(apmot.New())
}

func StartJaeger(serviceName string) {
	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		// parsing errors might happen here, such as when we get a string where we expect a number
		logger.Errorf("could not parse Jaeger env vars: %v", err)
		return
	}

	cfg.ServiceName = serviceName
	cfg.Sampler.Type = jaeger.SamplerTypeConst
	cfg.Sampler.Param = 1

	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		logger.Errorf("could not initialize jaeger tracer: %v", err)
		return
	}
	Enabled = true
	jaegerCloser = closer
	opentracing.SetGlobalTracer(tracer)
}

func StopJaeger() {
	Enabled = false
	if jaegerCloser != nil {
		jaegerCloser.Close()
		jaegerCloser = nil
	}
}
