// Package lifecycle implements the asset presence state machine.
//
// Assets move new -> stable after enough sightings, stable -> at_risk
// when risky ports are observed open, any live state -> gone when no
// evidence arrives within the staleness window, and gone -> stable on
// reappearance. Every transition appends exactly one asset_history
// row, and the Manager here is the only writer of asset status.
package lifecycle
