package contracts

// BusinessModelCanvasBlocks are the nine blocks stage 9 reads from stage 8.
var BusinessModelCanvasBlocks = []string{
	"customerSegments",
	"valuePropositions",
	"channels",
	"customerRelationships",
	"revenueStreams",
	"keyResources",
	"keyActivities",
	"keyPartnerships",
	"costStructure",
}

// Default is the contract table for stages 2 through 9.
var Default = []Contract{
	{Consumer: 2, Producer: 1, Fields: Fields{
		"description":      {Type: FieldTypeString, MinLength: 50},
		"problemStatement": {Type: FieldTypeString, MinLength: 20},
		"valueProp":        {Type: FieldTypeString, MinLength: 20},
		"targetMarket":     {Type: FieldTypeString, MinLength: 10},
		"archetype":        {Type: FieldTypeString},
	}},
	{Consumer: 3, Producer: 2, Fields: Fields{
		"metrics":  {Type: FieldTypeObject},
		"evidence": {Type: FieldTypeObject},
	}},
	{Consumer: 3, Producer: 1, Fields: Fields{
		"archetype":        {Type: FieldTypeString},
		"problemStatement": {Type: FieldTypeString, MinLength: 20},
	}},
	{Consumer: 4, Producer: 3, Fields: Fields{
		"competitorEntities": {Type: FieldTypeArray, Optional: true},
		"decision":           {Type: FieldTypeString, Optional: true},
	}},
	{Consumer: 5, Producer: 4, Fields: Fields{
		"stage5Handoff": {Type: FieldTypeObject},
	}},
	{Consumer: 6, Producer: 5, Fields: Fields{
		"unitEconomics": {Type: FieldTypeObject},
	}},
	{Consumer: 7, Producer: 5, Fields: Fields{
		"unitEconomics": {Type: FieldTypeObject},
	}},
	{Consumer: 7, Producer: 6, Fields: Fields{
		"aggregate_risk_score": {Type: FieldTypeNumber, Optional: true},
	}},
	{Consumer: 8, Producer: 7, Fields: Fields{
		"pricing_model": {Type: FieldTypeString},
		"tiers":         {Type: FieldTypeArray, MinItems: 1},
	}},
	{Consumer: 9, Producer: 6, Fields: Fields{
		"risks":                {Type: FieldTypeArray, MinItems: 1},
		"aggregate_risk_score": {Type: FieldTypeNumber, Optional: true},
	}},
	{Consumer: 9, Producer: 7, Fields: Fields{
		"tiers": {Type: FieldTypeArray, MinItems: 1},
	}},
	{Consumer: 9, Producer: 8, Fields: canvasFields()},
}

func canvasFields() Fields {
	f := make(Fields, len(BusinessModelCanvasBlocks))
	for _, block := range BusinessModelCanvasBlocks {
		f[block] = FieldSpec{Type: FieldTypeObject}
	}
	return f
}
