package models

// TxIn is one resolved input of a Transaction: the previous output it
// spends, plus the address and value that prevout carried.
type TxIn struct {
	PrevTxid string `json:"prevTxid"`
	PrevVout uint32 `json:"prevVout"`
	Address  string `json:"address"`
	Value    int64  `json:"value"` // satoshi
}

// TxOut is one output of a Transaction. SpentBy is not set by any
// component: the DFS Tracer resolves spenders into TreeNode children and
// leaves this field empty.
type TxOut struct {
	Address string `json:"address"`
	Value   int64  `json:"value"` // satoshi
	SpentBy string `json:"spentBy,omitempty"`
}

// Transaction is immutable once fetched; txid is its identity. See
// DATA MODEL §3 for the invariant that txid uniquely keys a transaction
// globally.
type Transaction struct {
	Txid    string  `json:"txid"`
	Inputs  []TxIn  `json:"inputs"`
	Outputs []TxOut `json:"outputs"`
	Fee     int64   `json:"fee"`  // satoshi
	Size    int     `json:"size"` // bytes

	// Confirmed/BlockHeight are display-only; the engine treats
	// confirmed and unconfirmed transactions identically (spec §9).
	Confirmed   bool   `json:"confirmed"`
	BlockHeight *int64 `json:"blockHeight,omitempty"`
}

// VinCount and VoutCount are the raw in/out counts the heuristic
// detector and classifier operate on.
func (t Transaction) VinCount() int  { return len(t.Inputs) }
func (t Transaction) VoutCount() int { return len(t.Outputs) }

// Address is identified by its canonical string form.
type Address struct {
	Value     string    `json:"address"`
	Tag       string    `json:"tag"` // "related" | "coinjoin"
	FirstSeen int64     `json:"firstSeen"` // unix seconds
	LastSeen  int64     `json:"lastSeen"`
	TxCount   int       `json:"txCount"`
}

const (
	AddressTagRelated  = "related"
	AddressTagCoinJoin = "coinjoin"
)

// DetectionMethod enumerates how a verdict reached its decision.
type DetectionMethod string

const (
	MethodHeuristic DetectionMethod = "heuristic"
	MethodML        DetectionMethod = "ml"
	MethodCombined  DetectionMethod = "combined"
	MethodWasabi    DetectionMethod = "wasabi"
	MethodSamourai  DetectionMethod = "samourai"
)

// Indicators are the structural measurements the heuristic detector
// accumulates its score from (spec §4.4).
type Indicators struct {
	VinCount         int     `json:"vinCount"`
	VoutCount        int     `json:"voutCount"`
	UniqueAddresses  int     `json:"uniqueAddresses"`
	OutputUniformity float64 `json:"outputUniformity"` // 0..1, higher = more clustered
	InputDiversity   float64 `json:"inputDiversity"`   // 0..1
	SizeClass        string  `json:"sizeClass"`        // "small" | "medium" | "large"
}

// Verdict is the Classification Verdict record of spec §3.
type Verdict struct {
	IsCoinJoin      bool            `json:"isCoinJoin"`
	DetectionMethod DetectionMethod `json:"detectionMethod"`
	Score           float64         `json:"score"`
	Reasons         []string        `json:"reasons"`
	Indicators      Indicators      `json:"indicators"`
	MLProbability   *float64        `json:"mlProbability,omitempty"`
	MLThreshold     *float64        `json:"mlThreshold,omitempty"`
}

// TreeNode is a recursive Investigation Tree Node (spec §3). Reference
// is true when this node is a repeat visit of a txid already present
// elsewhere in the tree (spec §3's tree-shape invariant); a reference
// node carries no children.
type TreeNode struct {
	Transaction Transaction `json:"transaction"`
	Verdict     Verdict     `json:"verdict"`
	Depth       int         `json:"depth"`
	Reference   bool        `json:"reference,omitempty"`
	Children    []*TreeNode `json:"children,omitempty"`
}

// InvestigationMetadata is the per-run record of spec §3.
type InvestigationMetadata struct {
	RootID                string `json:"rootId"` // txid or address
	Source                string `json:"source"` // "monitor" | "facade"
	MaxDepth              int    `json:"maxDepth"`
	MaxTotalNodes         int    `json:"maxTotalNodes"`
	DepthReached          int    `json:"depthReached"`
	NodeCount             int    `json:"nodeCount"`
	ConsecutiveNonCoinJoin int   `json:"consecutiveNonCoinJoin"`
	DurationMillis        int64  `json:"durationMillis"`
	TerminationReason     string `json:"terminationReason"`
}

// Termination reasons (spec §4.7, §8).
const (
	TerminationDepth       = "depth"
	TerminationNodeBudget  = "node_budget"
	TerminationTimeout     = "timeout"
	TerminationNonCoinJoinStreak = "non_coinjoin_streak"
	TerminationExhausted   = "exhausted"
	TerminationStackEmpty  = "stack_empty"
)
