package datasource

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DatasourceAdapterFactory creates adapters from the registry.
type DatasourceAdapterFactory interface {
	// NewAdapter opens an adapter for the given datasource type.
	NewAdapter(ctx context.Context, dsType string, config map[string]any) (Adapter, error)

	// ListTypes returns info for all registered adapter types.
	ListTypes() []DatasourceAdapterInfo
}

type registryFactory struct {
	logger *zap.Logger
}

// NewDatasourceAdapterFactory returns a factory that uses the global registry.
func NewDatasourceAdapterFactory(logger *zap.Logger) DatasourceAdapterFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registryFactory{logger: logger}
}

func (f *registryFactory) NewAdapter(ctx context.Context, dsType string, config map[string]any) (Adapter, error) {
	factory := GetFactory(dsType)
	if factory == nil {
		var known []string
		for _, info := range f.ListTypes() {
			known = append(known, info.Type)
		}
		return nil, fmt.Errorf("unsupported datasource type %q (available: %s)", dsType, strings.Join(known, ", "))
	}
	return factory(ctx, config, f.logger.With(zap.String("datasource_type", dsType)))
}

func (f *registryFactory) ListTypes() []DatasourceAdapterInfo {
	return RegisteredAdapters()
}

var _ DatasourceAdapterFactory = (*registryFactory)(nil)
