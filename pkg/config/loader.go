package config

import (
	"fmt"

	cansim "github.com/openxilenv/cansim"
	"github.com/openxilenv/cansim/pkg/blackboard"
	"github.com/openxilenv/cansim/pkg/object"
	log "github.com/sirupsen/logrus"
)

// Loader builds the object tables from an ini description, it is
// run by the network when initializing
type Loader struct {
	File     any // path, *os.File or []byte
	Registry blackboard.Registry
	DBC      string // additional DBC file, imported into DBCChannel
	// Name of the channel receiving the DBC objects, the first one when empty
	DBCChannel string
	DBCOptions DBCOptions
	Logger     log.FieldLogger
}

func (l *Loader) Load() (*object.Database, error) {
	specs, err := LoadINI(l.File, l.Registry, l.Logger)
	if err != nil {
		return nil, err
	}
	if l.DBC != "" {
		if err := l.importDBC(specs); err != nil {
			return nil, err
		}
	}
	return object.Build(specs, l.Logger)
}

func (l *Loader) importDBC(specs []object.ChannelSpec) error {
	target := -1
	for i := range specs {
		if l.DBCChannel == "" || specs[i].Name == l.DBCChannel {
			target = i
			break
		}
	}
	if target < 0 {
		return fmt.Errorf("%w : no channel %q for %v", cansim.ErrConfig, l.DBCChannel, l.DBC)
	}
	opts := l.DBCOptions
	opts.FD = opts.FD || specs[target].FD
	imported, err := ImportDBCFile(l.DBC, l.Registry, opts)
	if err != nil {
		return err
	}
	specs[target].Objects = append(specs[target].Objects, imported...)
	return nil
}
