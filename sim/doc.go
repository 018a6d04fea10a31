// Package sim holds the data model of the light-duty vehicle compliance
// simulation.
//
// # Reading Guide
//
// Start with these files:
//   - vehicle.go: Vehicle records and the VehicleArena that owns them
//   - composite.go: CompositeVehicle, the producer's optimization unit
//   - markettree.go: the market class tree (parents and responsive leaves)
//   - decision.go: producer decisions, consumer responses, annual records
//
// # Architecture
//
// The sim package defines the shared types; the annual loop lives in
// sub-packages:
//   - sim/costcurve/: cost clouds, frontiers, drive-cycle weighting
//   - sim/consumer/: logit share model
//   - sim/producer/: technology and share search
//   - sim/pricing/: cross-subsidy multiplier search
//   - sim/credits/: credit bank
//   - sim/stock/: registered stock roll-forward
//   - sim/inputs/: input template ingestion
//   - sim/trace/: iteration log records
//   - sim/report/: CSV and SQLite outputs
//   - sim/session/: the year driver tying everything together
//
// Every reduction over market classes or composite vehicles iterates in
// sorted ID order so identical inputs give identical outputs.
package sim
