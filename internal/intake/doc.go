// Package intake watches a drop directory and runs new documents through
// the host pipeline. A file is dispatched once its size is unchanged across
// two polls, then moved to the processed or failed subdirectory by outcome.
// Files present at startup are picked up by the same settling rule.
package intake
