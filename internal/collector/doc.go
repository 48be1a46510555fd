// Package collector turns relational records into the set of object-store keys
// the application expects to exist.
//
// Each catalog entity names a table and its file-bearing fields. A field is
// read by one of a closed set of strategies (structured flag+filename, legacy
// URL, JSON document) looked up by kind; entities that belong to an owner via
// a (type, id) pair are resolved to that owner first and their references are
// tagged polymorphic. Strategies are pure functions of a record so they can be
// tested without a database.
//
// Legacy placeholder detection is an exact match against a configured list of
// sentinel strings. It is a stopgap for rows written before structured fields
// existed: a sentinel yields a data-quality warning and no reference, and the
// rows should be migrated rather than the matching broadened.
package collector
