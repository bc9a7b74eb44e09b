package service

// Layer describes the architectural slice a service belongs to: ingestion of
// raw readings, the engines that derive baselines/anomalies/KPIs from them,
// the fanout layer that pushes results to consumers, and the scheduling/ops
// layer that drives recurring work.
type Layer string

const (
	LayerIngestion Layer = "ingestion"
	LayerEngine    Layer = "engine"
	LayerFanout    Layer = "fanout"
	LayerOps       Layer = "ops"
)

// Descriptor advertises a service's placement and capabilities. It is optional
// and does not change runtime behavior, but allows orchestration layers and
// documentation to reason about modules consistently.
type Descriptor struct {
	Name         string
	Domain       string
	Layer        Layer
	Capabilities []string
}

// WithCapabilities returns a copy of the descriptor with additional
// capabilities appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}
