// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so components depend on a small stable surface (Logger, Field)
// instead of zerolog directly, and so log outputs/levels can be swapped at
// runtime via Service.Apply without re-wiring every component.
package logx
