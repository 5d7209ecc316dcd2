package routes

import (
	"net/http"
	"time"

	"github.com/except-pass/telltale/internal/metrics"
	"github.com/except-pass/telltale/internal/server/middleware"
	"github.com/except-pass/telltale/pkg/diagnostic"

	"github.com/labstack/echo/v4"
)

// InputsBody is the request body of the engine routes. It is exported so
// echo binds the path parameter through the embedding in explain requests.
type InputsBody struct {
	GraphID               string                                 `param:"id" validate:"required"`
	Observations          map[string]diagnostic.ObservationState `json:"observation_states" validate:"dive,oneof=present absent unknown"`
	SensorValues          map[string]*float64                    `json:"sensor_values"`
	ConfirmedFailureModes []string                               `json:"confirmed_failure_modes"`
}

func (b *InputsBody) inputs() diagnostic.Inputs {
	return diagnostic.Inputs{
		Observations:          b.Observations,
		SensorValues:          b.SensorValues,
		ConfirmedFailureModes: b.ConfirmedFailureModes,
	}
}

// loadEngine binds the request into data and returns an engine over the
// requested graph. A nil engine means the response has been written.
func loadEngine(c echo.Context, data any, graphID func() string) (*diagnostic.Engine, error) {
	if err := c.Bind(data); err != nil {
		return nil, badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return nil, badRequest(c, "Invalid request body: "+err.Error())
	}

	app := middleware.GetApp(c)
	g, err := app.Store.GetGraph(c.Request().Context(), graphID())
	if err != nil {
		return nil, respondError(c, err)
	}
	return diagnostic.NewEngine(g), nil
}

// DiagnoseHandler ranks the candidate failure modes for the posted inputs.
func DiagnoseHandler(c echo.Context) error {
	data := new(InputsBody)
	engine, err := loadEngine(c, data, func() string { return data.GraphID })
	if engine == nil {
		return err
	}

	start := time.Now()
	diagnosis, err := engine.Diagnose(data.inputs())
	if err != nil {
		metrics.ObserveCall("diagnose", start, 0, err)
		return respondError(c, err)
	}
	metrics.ObserveCall("diagnose", start, len(diagnosis.Warnings), nil)
	return c.JSON(http.StatusOK, diagnosis)
}

// RecommendHandler proposes the next observations or readings to collect.
func RecommendHandler(c echo.Context) error {
	type recommendResponse struct {
		Suggestions []diagnostic.TestSuggestion `json:"suggestions"`
	}

	data := new(InputsBody)
	engine, err := loadEngine(c, data, func() string { return data.GraphID })
	if engine == nil {
		return err
	}

	start := time.Now()
	suggestions, err := engine.RecommendNextTests(data.inputs())
	metrics.ObserveCall("recommend", start, 0, err)
	if err != nil {
		return respondError(c, err)
	}
	if suggestions == nil {
		suggestions = []diagnostic.TestSuggestion{}
	}
	return c.JSON(http.StatusOK, recommendResponse{Suggestions: suggestions})
}

// ExplainHandler traces the evidence behind one failure mode.
func ExplainHandler(c echo.Context) error {
	type explainBody struct {
		InputsBody
		FailureMode string `json:"failure_mode" validate:"required"`
	}

	type explainResponse struct {
		*diagnostic.Explanation
		Text string `json:"text"`
	}

	data := new(explainBody)
	engine, err := loadEngine(c, data, func() string { return data.GraphID })
	if engine == nil {
		return err
	}

	start := time.Now()
	explanation, err := engine.Explain(data.FailureMode, data.inputs())
	if err != nil {
		metrics.ObserveCall("explain", start, 0, err)
		return respondError(c, err)
	}
	metrics.ObserveCall("explain", start, len(explanation.Warnings), nil)
	return c.JSON(http.StatusOK, explainResponse{Explanation: explanation, Text: explanation.Text()})
}
