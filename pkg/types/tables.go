package types

// Standard table names for Storage.GetTable.
const (
	SchemasTable      = "schemas"
	ClassesTable      = "entity_classes"
	ClassSchemasTable = "class_schemas"
	EntitiesTable     = "entities"
	AttributesTable   = "attributes"
	ValuesTable       = "attribute_values"
	CheckpointsTable  = "migration_checkpoints"
)

// StandardTableNames lists all standard table names in dependency order:
// a table only references tables listed before it.
var StandardTableNames = []string{
	SchemasTable,
	ClassesTable,
	ClassSchemasTable,
	EntitiesTable,
	AttributesTable,
	ValuesTable,
	CheckpointsTable,
}
