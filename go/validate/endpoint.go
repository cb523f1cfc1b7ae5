package validate

import (
	"context"
	"encoding/json"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
)

// validateEndpoints implements phase 4: for each capture/materialization
// with a connector endpoint, invoke its Validate RPC and record the
// per-binding constraints it returns. An Unsatisfiable constraint is
// recorded as an incompatible collection (spec.md §4.3 phase 4).
func validateEndpoints(ctx context.Context, client connector.Client, draft []catalog.DraftSpec) ([]BuiltCapture, []BuiltMaterialization, []catalog.IncompatibleCollection, []error) {
	var captures []BuiltCapture
	var materializations []BuiltMaterialization
	var incompatible []catalog.IncompatibleCollection
	var errs []error

	for _, d := range draft {
		if d.IsDeletion() {
			continue
		}
		var scope = catalog.Scope(d.SpecType, d.CatalogName)

		switch d.SpecType {
		case catalog.Capture:
			var w captureWire
			if err := json.Unmarshal(d.Spec, &w); err != nil {
				errs = append(errs, catalog.NewValidationError(scope, "parsing capture spec: %v", err))
				continue
			}
			if w.Endpoint.Connector == nil {
				errs = append(errs, catalog.NewValidationError(scope, "capture has no connector endpoint"))
				continue
			}
			var req = connector.ValidateRequest{
				ConnectorType: "image",
				ConfigJson:    w.Endpoint.Connector.Config,
			}
			for _, b := range w.Bindings {
				req.Bindings = append(req.Bindings, connector.ValidateBinding{
					ResourceConfigJson: b.Resource,
					Collection:         b.Target,
				})
			}
			resp, err := client.Validate(ctx, w.Endpoint.Connector.Image, req)
			if err != nil {
				errs = append(errs, catalog.NewValidationError(scope, "capture Validate RPC: %v", err))
				continue
			}
			if resp.HasUnsatisfiable() {
				for i, vb := range resp.Bindings {
					if hasUnsatisfiable(vb) && i < len(w.Bindings) {
						incompatible = append(incompatible, catalog.IncompatibleCollection{CollectionName: w.Bindings[i].Target})
					}
				}
			}
			captures = append(captures, BuiltCapture{
				Name:           d.CatalogName,
				ConnectorImage: w.Endpoint.Connector.Image,
				Bindings:       resp.Bindings,
			})

		case catalog.Materialization:
			var w materializationWire
			if err := json.Unmarshal(d.Spec, &w); err != nil {
				errs = append(errs, catalog.NewValidationError(scope, "parsing materialization spec: %v", err))
				continue
			}
			if w.Endpoint.Connector == nil {
				errs = append(errs, catalog.NewValidationError(scope, "materialization has no connector endpoint"))
				continue
			}
			var req = connector.ValidateRequest{
				ConnectorType: "image",
				ConfigJson:    w.Endpoint.Connector.Config,
			}
			for _, b := range w.Bindings {
				req.Bindings = append(req.Bindings, connector.ValidateBinding{
					ResourceConfigJson: b.Resource,
					Collection:         b.Source,
				})
			}
			resp, err := client.Validate(ctx, w.Endpoint.Connector.Image, req)
			if err != nil {
				errs = append(errs, catalog.NewValidationError(scope, "materialization Validate RPC: %v", err))
				continue
			}
			if resp.HasUnsatisfiable() {
				for i, vb := range resp.Bindings {
					if hasUnsatisfiable(vb) && i < len(w.Bindings) {
						var name = w.Bindings[i].Source
						incompatible = append(incompatible, catalog.IncompatibleCollection{
							CollectionName:           name,
							AffectedMaterializations: []catalog.Name{d.CatalogName},
						})
					}
				}
			}
			materializations = append(materializations, BuiltMaterialization{
				Name:           d.CatalogName,
				ConnectorImage: w.Endpoint.Connector.Image,
				SourceCapture:  w.SourceCapture,
				Bindings:       resp.Bindings,
			})
		}
	}

	return captures, materializations, incompatible, errs
}

func hasUnsatisfiable(b connector.ValidatedBinding) bool {
	for _, c := range b.Constraints {
		if c.Type == connector.ConstraintUnsatisfiable {
			return true
		}
	}
	return false
}
