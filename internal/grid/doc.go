// Package grid implements the grid-job workflow: building tracker commands
// for each run (optionally split into event ranges), submitting them with
// retry rounds, tracking the scheduler's job list, checking per-run output
// and log files for success, merging outputs and keeping the Kerberos
// ticket alive while all of that runs.
//
// File layout convention, relative to an output directory and a release:
//
//	opts/<rel>/<AB>/<CD>/<aux>_<run>_<rel>[_<tag>].opts
//	log/<rel>/<AB>/<CD>/<aux>_<run>_<rel>[_<tag>].log
//	<type>/<rel>/<AB>/<CD>/<type>_<run>_<rel>[_<tag>].root
//
// where <run> is the six-digit run ID and AB/CD its first four digits.
package grid
