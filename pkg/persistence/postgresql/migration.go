package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflows table. Nodes and edges are embedded and always
			-- written together with the record that owns them.
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				owner VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'completed', 'error')),
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				integration_id VARCHAR(255),
				integration_type VARCHAR(255),
				settings JSONB,
				version BIGINT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_owner ON workflows(owner);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);
		`,
		2: `
			-- Suspended delay nodes are polled by the scheduler.
			CREATE INDEX idx_workflows_nodes ON workflows USING GIN (nodes jsonb_path_ops);
		`,
	}
}
