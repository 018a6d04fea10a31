package sim

import (
	"fmt"
	"sort"
)

// FuelingClass is the powertrain family of a vehicle or market class.
type FuelingClass string

const (
	FuelingICE  FuelingClass = "ICE"
	FuelingHEV  FuelingClass = "HEV"
	FuelingPHEV FuelingClass = "PHEV"
	FuelingBEV  FuelingClass = "BEV"
	FuelingFCV  FuelingClass = "FCV"
)

// ValidFuelingClasses is the set of recognized fueling classes.
var ValidFuelingClasses = map[FuelingClass]bool{
	FuelingICE: true, FuelingHEV: true, FuelingPHEV: true, FuelingBEV: true, FuelingFCV: true,
}

// ParseFuelingClass accepts the canonical upper-case names.
func ParseFuelingClass(s string) (FuelingClass, error) {
	f := FuelingClass(s)
	if !ValidFuelingClasses[f] {
		return "", fmt.Errorf("unknown fueling class %q", s)
	}
	return f, nil
}

// Plugs reports whether vehicles of this class draw grid electricity.
func (f FuelingClass) Plugs() bool { return f == FuelingBEV || f == FuelingPHEV }

// ZeroTailpipe reports whether vehicles of this class emit no tailpipe CO2e.
func (f FuelingClass) ZeroTailpipe() bool { return f == FuelingBEV || f == FuelingFCV }

// Vehicle is one vehicle row. Base-year vehicles carry only the descriptive
// fields; vehicles produced in a simulated model year additionally carry the
// operating point and accounting results written by decomposition.
type Vehicle struct {
	Name             string
	ManufacturerID   string
	ModelYear        int
	ContextSizeClass string
	BodyStyle        string
	RegClassID       string
	MarketClassID    string
	FuelingClass     FuelingClass
	CostCurveClass   string
	InUseFuelID      string
	CertFuelID       string
	DriveSystem      string

	FootprintFt2  float64
	CurbWeightLbs float64
	GVWRLbs       float64
	GCWRLbs       float64
	MSRP          float64
	BaseYearSales float64
	BatteryKWh    float64

	// BaseYearCertCO2eGPMI caps chosen g/mi when backsliding is disallowed.
	// Zero means unknown; the frontier maximum is used instead.
	BaseYearCertCO2eGPMI float64
	PriorRedesignYear    int
	RedesignInterval     int

	// Attributes holds keyed numeric attributes: extra template columns,
	// off-cycle credits ("offcycle:{name}") and decomposed values.
	Attributes map[string]float64
	// Labels holds keyed text attributes such as body_style or
	// structure_material; production multipliers match on them.
	Labels map[string]string

	// BaseHandle is the base-year vehicle a model-year vehicle derives from.
	BaseHandle VehicleHandle

	CO2eGPMI               float64
	KWhPMI                 float64
	Sales                  float64
	Cost                   float64
	Price                  float64
	GeneralizedCost        float64
	TargetCO2eGPMI         float64
	LifetimeVMT            float64
	TargetCO2eMg           float64
	CertCO2eMg             float64
	ProductionMultiplier   float64
	InitialRegisteredCount float64
	Redesigned             bool
	CompositeID            string
}

// Attribute returns a keyed attribute, or zero when absent.
func (v *Vehicle) Attribute(key string) float64 {
	return v.Attributes[key]
}

// SetAttribute writes a keyed attribute.
func (v *Vehicle) SetAttribute(key string, value float64) {
	if v.Attributes == nil {
		v.Attributes = make(map[string]float64)
	}
	v.Attributes[key] = value
}

// AttributeKeys returns the attribute keys in sorted order.
func (v *Vehicle) AttributeKeys() []string {
	keys := make([]string, 0, len(v.Attributes))
	for k := range v.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Label returns a keyed text attribute, or "" when absent.
func (v *Vehicle) Label(key string) string {
	return v.Labels[key]
}

// SetLabel writes a keyed text attribute.
func (v *Vehicle) SetLabel(key, value string) {
	if v.Labels == nil {
		v.Labels = make(map[string]string)
	}
	v.Labels[key] = value
}

// IsAlt reports whether the vehicle may adopt new technology in year.
func (v *Vehicle) IsAlt(year int) bool {
	if v.RedesignInterval <= 0 || v.PriorRedesignYear == 0 {
		return true
	}
	return year-v.PriorRedesignYear >= v.RedesignInterval
}

// Clone returns a copy with its own attribute map.
func (v *Vehicle) Clone() *Vehicle {
	c := *v
	if v.Attributes != nil {
		c.Attributes = make(map[string]float64, len(v.Attributes))
		for k, val := range v.Attributes {
			c.Attributes[k] = val
		}
	}
	if v.Labels != nil {
		c.Labels = make(map[string]string, len(v.Labels))
		for k, val := range v.Labels {
			c.Labels[k] = val
		}
	}
	return &c
}

// VehicleHandle indexes a vehicle in a VehicleArena.
type VehicleHandle int

// NoVehicle marks an absent handle.
const NoVehicle VehicleHandle = -1

// VehicleArena owns every vehicle of a session. Composite vehicles and the
// stock refer to vehicles by handle; writes go through Get.
type VehicleArena struct {
	vehicles []*Vehicle
}

// NewVehicleArena creates an empty arena.
func NewVehicleArena() *VehicleArena {
	return &VehicleArena{}
}

// Add stores v and returns its handle.
func (a *VehicleArena) Add(v *Vehicle) VehicleHandle {
	a.vehicles = append(a.vehicles, v)
	return VehicleHandle(len(a.vehicles) - 1)
}

// Get returns the vehicle for h. It panics on an invalid handle.
func (a *VehicleArena) Get(h VehicleHandle) *Vehicle {
	return a.vehicles[h]
}

// Len returns the number of vehicles.
func (a *VehicleArena) Len() int { return len(a.vehicles) }

// Handles returns every handle in insertion order.
func (a *VehicleArena) Handles() []VehicleHandle {
	out := make([]VehicleHandle, len(a.vehicles))
	for i := range a.vehicles {
		out[i] = VehicleHandle(i)
	}
	return out
}
