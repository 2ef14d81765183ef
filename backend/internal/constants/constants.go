package constants

// Node labels
const (
	LabelFact   = "Fact"
	LabelEntity = "Entity"
)

// Reserved edge types
const (
	// EdgeMentionsEntity links a Fact to an Entity it mentions (auto-linking)
	EdgeMentionsEntity = "MENTIONS_ENTITY"
	// EdgeExtractedFrom links a Fact to the subject Entity of a triplet extracted from it
	EdgeExtractedFrom = "EXTRACTED_FROM"
	// EdgeSummarizes links a summary Fact to each of its source Facts
	EdgeSummarizes = "SUMMARIZES"
	// EdgeRelatedTo is the fallback predicate when normalization leaves nothing
	EdgeRelatedTo = "RELATED_TO"
)

// Metadata keys written by the engine itself
const (
	MetaStatusReason = "status_reason"
	MetaSimilarity   = "similarity"
	MetaLinkMethod   = "method"
	MetaAutoLinked   = "auto_linked"
	MetaMergedFrom   = "merged_from"
	MetaIsSummary    = "is_summary"
	MetaSourceCount  = "source_count"
)

// ArchivedByJobReason is recorded when the archival job archives a node
const ArchivedByJobReason = "archived_by_cleanup_job"

// MillisPerDay converts ttl_days into epoch milliseconds
const MillisPerDay = 86_400_000

// Job names
const (
	JobDeduplicate = "deduplicate"
	JobArchive     = "archive"
)

// LockKeyPrefix namespaces job locks in the shared lock store
const LockKeyPrefix = "graph_memory:job"
