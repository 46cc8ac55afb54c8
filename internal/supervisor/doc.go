// Package supervisor runs a prediction command as a child process group,
// relays its merged output line by line, and folds the predictor's progress
// bars into one overall percentage.
//
// ProgressParser is the explicit state machine behind the percentage. It is
// idle until a "N%|" marker appears, then stays in a progress span where
// blank lines advance the pass counter; any other text ends the span and is
// forwarded unchanged. Supervisor wires the parser to a child process and a
// platform ProcessGroupController.
package supervisor
