// Package core provides the business logic for bulk equipment catalog
// imports.
//
// This package holds all domain logic independent of any transport. It is
// used by the HTTP handlers in package web, by the catalogimport CLI and by
// tests without modification.
//
// # Pipeline
//
// An import runs as a [Session] that moves through explicit states, one
// method per transition:
//
//  1. [Session.LoadSource] reads CSV, TSV or spreadsheet bytes into a
//     [SourceTable] and suggests a [FieldMapping].
//  2. [Session.ApplyMapping] checks the mapping and builds one [Record] per
//     data row.
//  3. [Session.ResolveReferences] looks up category and lifecycle phase names
//     and marks unknown names for creation.
//  4. [Session.Validate] and [Session.AutoFix] produce and repair
//     [ValidationIssue] values.
//  5. [Session.Preview] summarises what the import will do.
//  6. [Session.ResolveMedia] fetches and stores primary images (optional).
//  7. [Session.Import] creates pending references, then writes records in
//     sequential batches.
//
// Calling a method out of order returns [ErrInvalidTransition].
//
// # Service
//
// [Service] owns sessions, runs imports and media resolution in the
// background with progress subscription, bounds concurrent runs with a
// [RunLimiter], stores mapping templates and expires idle sessions.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code prefix: SRC (source), MAP (mapping), REF
// (references), VAL (validation), BAT (batches), MED (media), SES (sessions
// and runs), DB (database) and RATE.
package core
