package conversion

import (
	cansim "github.com/openxilenv/cansim"
	log "github.com/sirupsen/logrus"
)

// Engine applies signal conversions. Equations are delegated to the
// interpreter and replaced conversions to the provider.
type Engine struct {
	interpreter Interpreter
	provider    Provider
	logger      log.FieldLogger
}

func NewEngine(interpreter Interpreter, provider Provider, logger log.FieldLogger) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{
		interpreter: interpreter,
		provider:    provider,
		logger:      logger.WithField("service", "[CONV]"),
	}
}

func (e *Engine) Interpreter() Interpreter {
	return e.interpreter
}

// Execute runs bytecode if an interpreter is available, ok is false otherwise
func (e *Engine) Execute(code Bytecode, input cansim.Numeric, obj ObjectContext) (cansim.Numeric, bool) {
	if e == nil || e.interpreter == nil || len(code) == 0 {
		return input, false
	}
	return e.interpreter.Execute(code, input, obj), true
}

// Apply converts value. The order of factor and offset is part of the
// conversion type and is never rearranged.
func (e *Engine) Apply(c *Conversion, value cansim.Numeric, obj ObjectContext) cansim.Numeric {
	switch c.Type {
	case TypeNone:
		return value
	case TypeFactorOffset:
		return cansim.Float(value.Float64()*c.Factor + c.Offset)
	case TypeOffsetFactor:
		return cansim.Float((value.Float64() + c.Offset) * c.Factor)
	case TypeEquation:
		out, ok := e.Execute(c.Equation, value, obj)
		if !ok {
			if e != nil && len(c.Equation) > 0 {
				e.logger.Debug("no equation interpreter, value passed through")
			}
			return value
		}
		return out
	case TypeCurve:
		return cansim.Float(Curve(c.Curve, value.Float64()))
	case TypeReplaced:
		if e == nil || e.provider == nil {
			return value
		}
		converter, ok := e.provider.Lookup(c.ID)
		if !ok {
			e.logger.Debugf("no converter registered for id %v, value passed through", c.ID)
			return value
		}
		return converter.Convert(value, obj)
	}
	// Unknown conversions behave like identity
	return value
}
