package schema

// EquipmentTable is the destination table for imported catalog records.
const EquipmentTable = "equipment"

// EquipmentFieldSpecs defines the target fields for equipment catalog imports.
var EquipmentFieldSpecs = []FieldSpec{
	{Field: FieldID, Label: "ID", Kind: KindText},
	{Field: FieldName, Label: "Name", Kind: KindText, Required: true},
	{Field: FieldDescription, Label: "Description", Kind: KindText},
	{
		Field: FieldCategory, Label: "Category", Kind: KindReference,
		Reference: &Reference{Table: "categories", NameColumn: "name", Column: "category_id"},
	},
	{
		Field: FieldLifecyclePhase, Label: "Lifecycle Phase", Kind: KindReference,
		Reference: &Reference{Table: "lifecycle_phases", NameColumn: "name", Column: "lifecycle_phase_id"},
	},
	{Field: FieldBrand, Label: "Brand", Kind: KindText},
	{Field: FieldModel, Label: "Model", Kind: KindText},
	{Field: FieldDailyRate, Label: "Daily Rate", Kind: KindNumeric},
	{Field: FieldWeeklyRate, Label: "Weekly Rate", Kind: KindNumeric},
	{Field: FieldMonthlyRate, Label: "Monthly Rate", Kind: KindNumeric},
	{Field: FieldImageURL, Label: "Image URL", Kind: KindImage},
	{Field: FieldSpecSheetURL, Label: "Spec Sheet URL", Kind: KindURL},
}

// Default returns a fresh copy of the built-in equipment schema.
func Default() *Schema {
	fields := make([]FieldSpec, len(EquipmentFieldSpecs))
	for i, spec := range EquipmentFieldSpecs {
		if spec.Reference != nil {
			ref := *spec.Reference
			spec.Reference = &ref
		}
		fields[i] = spec
	}
	return &Schema{Table: EquipmentTable, Fields: fields}
}
