package docstore

// Relationship defines a parent-child link between two collections.
type Relationship struct {
	// ParentCollection is the parent collection (e.g., "stores").
	ParentCollection string

	// ChildCollection is the child collection (e.g., "shoppingItems").
	ChildCollection string

	// ParentKeyField is the field in the child that holds the parent ID (e.g., "storeId").
	ParentKeyField string
}

// Registry holds all known collection relationships for cascade deletes.
type Registry struct {
	relationships []Relationship
	byParent      map[string][]Relationship
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		relationships: []Relationship{},
		byParent:      make(map[string][]Relationship),
	}
}

// Register adds a relationship to the registry.
func (r *Registry) Register(rel Relationship) {
	r.relationships = append(r.relationships, rel)
	r.byParent[rel.ParentCollection] = append(r.byParent[rel.ParentCollection], rel)
}

// ChildrenOf returns all child relationships for a given parent collection.
func (r *Registry) ChildrenOf(parentCollection string) []Relationship {
	return r.byParent[parentCollection]
}

// AllRelationships returns all registered relationships.
func (r *Registry) AllRelationships() []Relationship {
	return r.relationships
}

// HasChildren returns true if the parent collection has any registered child relationships.
func (r *Registry) HasChildren(parentCollection string) bool {
	return len(r.byParent[parentCollection]) > 0
}
