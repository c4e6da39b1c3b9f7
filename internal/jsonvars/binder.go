package jsonvars

import (
	"fmt"

	"github.com/guided-traffic/json-post-proxy/internal/monitoring"
	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"github.com/sirupsen/logrus"
)

// Module identifies the binder's location configuration and request state
var Module = pipeline.NewModule("json_vars")

// DefaultPrefix is prepended to every bound variable name
const DefaultPrefix = "json_"

// LocationConf is the json_decode configuration of one location
type LocationConf struct {
	Enabled bool
	Prefix  string
}

// Result records what the binder did for one request
type Result struct {
	Names []string
	Err   error
}

// ResultOf returns the binding result of r, or nil if nothing was decoded
func ResultOf(r *pipeline.Request) *Result {
	res, _ := r.Ctx(Module).(*Result)
	return res
}

// DecodeError returns the decode failure for r, if any
func DecodeError(r *pipeline.Request) error {
	if res := ResultOf(r); res != nil {
		return res.Err
	}
	return nil
}

// Binder decodes complete request bodies into request variables
type Binder struct {
	decoder *Decoder
	logger  *logrus.Entry
}

// NewBinder creates a binder using decoder
func NewBinder(decoder *Decoder, logger *logrus.Entry) *Binder {
	return &Binder{
		decoder: decoder,
		logger:  logger.WithField("module", Module.Name()),
	}
}

// Register installs the binder into the rewrite phase. It must run after the
// body acquisition handler so that it only ever sees complete bodies.
func Register(reg pipeline.Registrar, b *Binder, enabled bool) error {
	if !enabled {
		return nil
	}
	if err := reg.Register(pipeline.PhaseRewrite, b.Handle); err != nil {
		return fmt.Errorf("failed to register %s rewrite phase handler: %w", Module.Name(), err)
	}
	return nil
}

// Handle binds the body of r once it has been received. It never fails the
// request: decode errors are exposed as $<prefix>decode_error instead.
func (b *Binder) Handle(r *pipeline.Request) pipeline.Code {
	conf, _ := r.Location().Conf(Module).(*LocationConf)
	if conf == nil || !conf.Enabled {
		return pipeline.Declined
	}

	if ResultOf(r) != nil || !r.Body().Complete() {
		return pipeline.Declined
	}

	res := &Result{}
	r.SetCtx(Module, res)

	log := b.logger.WithFields(logrus.Fields{
		"request_id": r.ID(),
		"location":   r.Location().Name,
	})

	vars, err := b.decoder.Decode(r.Body().Bytes(), conf.Prefix)
	if err != nil {
		res.Err = err
		r.Vars().Set(conf.Prefix+DecodeErrorName, err.Error())
		monitoring.RecordJSONDecode(err, 0)
		log.WithError(err).Warn("Failed to decode JSON request body")
		return pipeline.Declined
	}

	for name, value := range vars {
		r.Vars().Set(name, value)
		res.Names = append(res.Names, name)
	}

	monitoring.RecordJSONDecode(nil, len(vars))
	log.WithField("variables", len(vars)).Debug("Bound JSON body to variables")

	return pipeline.Declined
}
