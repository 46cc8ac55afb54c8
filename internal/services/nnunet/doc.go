// Package nnunet wraps the nnU-Net v2 command-line predictor as a
// single-model prediction capability.
//
// The predictor's search paths and thread limits are passed explicitly in
// the child environment for every call, so concurrent clients with different
// configurations do not interfere.
package nnunet
