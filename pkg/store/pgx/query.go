package pgx

const upsertGraphSQL = `
INSERT INTO graphs (id, name, description, document, failure_modes, observations, sensors, relationships)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE
SET name          = EXCLUDED.name,
    description   = EXCLUDED.description,
    document      = EXCLUDED.document,
    failure_modes = EXCLUDED.failure_modes,
    observations  = EXCLUDED.observations,
    sensors       = EXCLUDED.sensors,
    relationships = EXCLUDED.relationships,
    updated_at    = now();
`

const getGraphSQL = `
SELECT document FROM graphs WHERE id = $1;
`

const graphExistsSQL = `
SELECT EXISTS (SELECT 1 FROM graphs WHERE id = $1);
`

const listGraphsSQL = `
SELECT id, name, description, failure_modes, observations, sensors, relationships, created_at, updated_at
FROM graphs
ORDER BY created_at, id;
`

const deleteGraphSQL = `
DELETE FROM graphs WHERE id = $1;
`

const deleteExpectationsSQL = `
DELETE FROM expectations WHERE graph_id = $1;
`

const insertExpectationSQL = `
INSERT INTO expectations (graph_id, input_key, inputs, expected)
VALUES ($1, $2, $3, $4);
`

const getExpectationsSQL = `
SELECT inputs, expected FROM expectations
WHERE graph_id = $1
ORDER BY id;
`

const insertRunSQL = `
INSERT INTO truth_table_runs (id, graph_id, status, options, format)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at;
`

const updateRunSQL = `
UPDATE truth_table_runs
SET status      = $2,
    summary     = COALESCE($3, summary),
    results     = COALESCE($4, results),
    report_key  = $5,
    error       = $6,
    finished_at = $7
WHERE id = $1;
`

const getRunSQL = `
SELECT id, graph_id, status, options, format, summary, results, report_key, error, created_at, finished_at
FROM truth_table_runs
WHERE id = $1;
`
