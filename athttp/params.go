package athttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/programme-lv/autotest/course"
	"github.com/programme-lv/autotest/srvcerror"
)

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, srvcerror.ErrInvalidRequest("invalid " + name)
	}
	return id, nil
}

// assignment loads the assignment named by the path and checks that it
// belongs to the course in the path.
func (s *HttpServer) assignment(r *http.Request) (course.Assignment, error) {
	courseID, err := pathID(r, "courseID")
	if err != nil {
		return course.Assignment{}, err
	}
	assignmentID, err := pathID(r, "assignmentID")
	if err != nil {
		return course.Assignment{}, err
	}
	a, err := s.deps.Courses.GetAssignment(r.Context(), assignmentID)
	if err != nil {
		return course.Assignment{}, err
	}
	if a.CourseID != courseID {
		return course.Assignment{}, course.ErrAssignmentNotFound()
	}
	return a, nil
}

func (s *HttpServer) decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return srvcerror.ErrInvalidRequest("malformed request body").SetDebug(err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Translate(s.deps.Tr))
			}
			return srvcerror.ErrInvalidRequest(strings.Join(msgs, "; ")).SetDebug(err)
		}
		return srvcerror.ErrInvalidRequest(err.Error())
	}
	return nil
}

// requireStaff admits instructors and TAs.
func requireStaff(r *http.Request) (*JwtClaims, error) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		return nil, srvcerror.ErrUnauthorized()
	}
	if claims.Role().IsStudent() {
		return nil, srvcerror.ErrForbidden()
	}
	return claims, nil
}
