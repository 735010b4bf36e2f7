// Package schedule computes the next occurrence of a chore schedule.
//
// Stored kind/parameter strings are parsed once into a tagged variant
// (Daily, Weekly, Monthly); all arithmetic happens in the location of the
// supplied "now".
package schedule
