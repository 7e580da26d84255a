// Package debate implements the multi-model debate/consensus router.
//
// The router turns a single logical "ask the model what to do next" request
// into either a direct pass-through to one model or a concurrent fan-out over
// several participants whose answers are reconciled into one result. The
// return contract is the same either way, so the execution engine never has
// to care how many models were consulted.
//
// Reconciliation order without a judge: verbatim/normalized majority first,
// highest-weighted participant on material disagreement, then the lowest cost
// tier (fast over balanced over sota), then participant name for full
// determinism. A "judge" participant, when
// configured, replaces policy reconciliation with one extra synthesis call.
package debate
